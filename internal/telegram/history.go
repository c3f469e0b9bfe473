package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/extractor"
)

var errNotChannel = errors.New("username does not resolve to a channel")

// History implements extractor.Source.
func (c *Client) History(ctx context.Context, channel string, offsetID int64, limit int) ([]extractor.Post, error) {
	peer, err := c.resolve(ctx, channel)
	if err != nil {
		return nil, err
	}

	res, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:     peer,
		OffsetID: int(offsetID),
		Limit:    limit,
	})
	if err != nil {
		return nil, wrapError(fmt.Errorf("failed to get history: %w", err))
	}

	var msgs []tg.MessageClass
	switch r := res.(type) {
	case *tg.MessagesChannelMessages:
		msgs = r.Messages
	case *tg.MessagesMessagesSlice:
		msgs = r.Messages
	case *tg.MessagesMessages:
		msgs = r.Messages
	case *tg.MessagesMessagesNotModified:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected history type %T", res)
	}

	posts := make([]extractor.Post, 0, len(msgs))
	for _, m := range msgs {
		msg, ok := m.(*tg.Message)
		if !ok {
			// Service messages carry no content.
			continue
		}
		posts = append(posts, postFromMessage(msg))
	}
	return posts, nil
}

// DownloadPhoto implements extractor.Source.
func (c *Client) DownloadPhoto(ctx context.Context, post extractor.Post, path string) error {
	photo, ok := post.Ref.(*tg.Photo)
	if !ok {
		return fmt.Errorf("message %d has no downloadable photo", post.ID)
	}

	loc := &tg.InputPhotoFileLocation{
		ID:            photo.ID,
		AccessHash:    photo.AccessHash,
		FileReference: photo.FileReference,
		ThumbSize:     largestSize(photo.Sizes),
	}
	if _, err := c.downloader.Download(c.api, loc).ToPath(ctx, path); err != nil {
		return wrapError(fmt.Errorf("failed to download photo: %w", err))
	}
	return nil
}

func (c *Client) resolve(ctx context.Context, channel string) (tg.InputPeerClass, error) {
	c.mu.Lock()
	peer, ok := c.peers[channel]
	c.mu.Unlock()
	if ok {
		return peer, nil
	}

	res, err := c.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: channel})
	if err != nil {
		return nil, wrapError(fmt.Errorf("failed to resolve %s: %w", channel, err))
	}

	peer, err = channelPeer(res)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", channel, err)
	}

	c.mu.Lock()
	c.peers[channel] = peer
	c.mu.Unlock()
	return peer, nil
}

func channelPeer(res *tg.ContactsResolvedPeer) (tg.InputPeerClass, error) {
	pc, ok := res.Peer.(*tg.PeerChannel)
	if !ok {
		return nil, errNotChannel
	}
	for _, chat := range res.Chats {
		if ch, ok := chat.(*tg.Channel); ok && ch.ID == pc.ChannelID {
			return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}, nil
		}
	}
	return nil, errNotChannel
}

func postFromMessage(msg *tg.Message) extractor.Post {
	post := extractor.Post{
		ID:       int64(msg.ID),
		Date:     time.Unix(int64(msg.Date), 0).UTC(),
		Text:     msg.Message,
		Views:    msg.Views,
		Forwards: msg.Forwards,
		HasMedia: msg.Media != nil,
	}
	if media, ok := msg.Media.(*tg.MessageMediaPhoto); ok {
		if photo, ok := media.Photo.(*tg.Photo); ok {
			post.HasPhoto = true
			post.Ref = photo
		}
	}
	return post
}

// largestSize picks the biggest full-size variant of a photo.
func largestSize(sizes []tg.PhotoSizeClass) string {
	best, bestArea := "", -1
	for _, s := range sizes {
		var typ string
		var area int
		switch v := s.(type) {
		case *tg.PhotoSize:
			typ, area = v.Type, v.W*v.H
		case *tg.PhotoSizeProgressive:
			typ, area = v.Type, v.W*v.H
		default:
			continue
		}
		if area > bestArea {
			best, bestArea = typ, area
		}
	}
	if best == "" {
		return "x"
	}
	return best
}

// wrapError turns FLOOD_WAIT responses into extractor.RateLimitError.
func wrapError(err error) error {
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &extractor.RateLimitError{Wait: d}
	}
	return err
}
