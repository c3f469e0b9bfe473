package enrichment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/config"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/lake"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/models"
)

type fakeNLP struct {
	translateErr error
	classifyErr  error
	sentimentErr error
	category     string
	tone         string
	calls        int
}

func (f *fakeNLP) Translate(_ context.Context, text string) (string, error) {
	f.calls++
	if f.translateErr != nil {
		return "", f.translateErr
	}
	return "EN: " + text, nil
}

func (f *fakeNLP) Classify(_ context.Context, _ string, _ []string) (string, error) {
	f.calls++
	if f.classifyErr != nil {
		return "", f.classifyErr
	}
	return f.category, nil
}

func (f *fakeNLP) Sentiment(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.sentimentErr != nil {
		return "", f.sentimentErr
	}
	return f.tone, nil
}

func newProcessor(f *fakeNLP) *Processor {
	return NewProcessor(f, f, f, []string{"Promotion", LabelMedicalInquiry}, zap.NewNop())
}

func TestFinalCategory(t *testing.T) {
	tones := []string{"POSITIVE", ToneNegative, ToneNeutral}
	categories := []string{"Promotion", "Stock Update", "Educational", "Product Display", LabelMedicalInquiry, CategoryGeneral, CategoryUncategorized}

	for _, tone := range tones {
		for _, category := range categories {
			want := category
			if tone == ToneNegative && category == LabelMedicalInquiry {
				want = CategoryUrgentMedical
			}
			assert.Equal(t, want, FinalCategory(tone, category), "tone=%s category=%s", tone, category)
		}
	}
}

func TestProcess_EmptyTextSkipsServices(t *testing.T) {
	f := &fakeNLP{}
	p := newProcessor(f)

	for _, text := range []string{"", "   ", "\n\t"} {
		got := p.Process(context.Background(), text)
		assert.Equal(t, Classification{Category: CategoryGeneral, Tone: ToneNeutral}, got)
	}
	assert.Zero(t, f.calls)
}

func TestProcess_Success(t *testing.T) {
	f := &fakeNLP{category: LabelMedicalInquiry, tone: ToneNegative}
	got := newProcessor(f).Process(context.Background(), "ራስ ምታት")

	assert.Equal(t, Classification{Category: LabelMedicalInquiry, Tone: ToneNegative, Translated: "EN: ራስ ምታት"}, got)
	assert.Equal(t, 3, f.calls)
}

func TestProcess_FailureDegrades(t *testing.T) {
	boom := errors.New("quota exceeded")
	cases := map[string]*fakeNLP{
		"translate": {translateErr: boom},
		"classify":  {classifyErr: boom},
		"sentiment": {sentimentErr: boom, category: "Promotion"},
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			got := newProcessor(f).Process(context.Background(), "Paracetamol available")
			assert.Equal(t, Classification{
				Category:   CategoryUncategorized,
				Tone:       ToneNeutral,
				Translated: "Paracetamol available",
				Degraded:   true,
			}, got)
		})
	}
}

type fakeReader struct {
	res *lake.ReadResult
	err error
}

func (r *fakeReader) Read(string) (*lake.ReadResult, error) { return r.res, r.err }

type fakeStore struct {
	schemas  []string
	tables   []string
	appended []models.EnrichedMessage
}

func (s *fakeStore) EnsureSchema(_ context.Context, schema string) error {
	s.schemas = append(s.schemas, schema)
	return nil
}

func (s *fakeStore) EnsureEnrichedTable(_ context.Context, schema, table string) error {
	s.tables = append(s.tables, schema+"."+table)
	return nil
}

func (s *fakeStore) AppendEnriched(_ context.Context, _, _ string, msgs []models.EnrichedMessage) (int, error) {
	s.appended = append(s.appended, msgs...)
	return len(msgs), nil
}

func TestStage_Run(t *testing.T) {
	img := "raw/images/CheMed123/7.jpg"
	date := time.Date(2026, 1, 18, 9, 0, 0, 0, time.UTC)
	reader := &fakeReader{res: &lake.ReadResult{Records: []models.Message{
		{MessageID: 7, ChannelName: "CheMed123", MessageText: "Where can I find insulin?", Views: 40, Forwards: 2, MessageDate: date, HasMedia: true, ImagePath: &img},
		{MessageID: 8, ChannelName: "CheMed123", MessageText: "  "},
	}}}
	store := &fakeStore{}
	f := &fakeNLP{category: LabelMedicalInquiry, tone: ToneNegative}

	stage := NewStage(config.Default(), reader, newProcessor(f), store, nil, zap.NewNop())
	report, err := stage.Run(context.Background(), "ignored")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Read)
	assert.Equal(t, 1, report.DroppedEmpty)
	assert.Equal(t, 1, report.Loaded)
	assert.Equal(t, []string{"raw"}, store.schemas)
	assert.Equal(t, []string{"raw.enriched_messages"}, store.tables)

	require.Len(t, store.appended, 1)
	got := store.appended[0]
	assert.Equal(t, int64(7), got.MessageID)
	assert.Equal(t, "CheMed123", got.ChannelKey)
	assert.Equal(t, 40, got.ViewCount)
	assert.True(t, got.HasImage)
	assert.Equal(t, &img, got.ImagePath)
	assert.Equal(t, date, got.MessageDate)
	assert.Equal(t, CategoryUrgentMedical, got.FinalCategory)
	assert.Equal(t, LabelMedicalInquiry, got.ContentCategory)
}

func TestStage_Run_NothingToEnrichSkipsStore(t *testing.T) {
	reader := &fakeReader{res: &lake.ReadResult{Records: []models.Message{{MessageID: 1, MessageText: ""}}}}
	store := &fakeStore{}

	report, err := NewStage(config.Default(), reader, newProcessor(&fakeNLP{}), store, nil, zap.NewNop()).Run(context.Background(), "x")
	require.NoError(t, err)
	assert.Zero(t, report.Loaded)
	assert.Empty(t, store.schemas)
	assert.Empty(t, store.tables)
}

func TestStage_Run_ReadError(t *testing.T) {
	reader := &fakeReader{err: errors.New("permission denied")}
	_, err := NewStage(config.Default(), reader, newProcessor(&fakeNLP{}), &fakeStore{}, nil, zap.NewNop()).Run(context.Background(), "x")
	require.Error(t, err)
}
