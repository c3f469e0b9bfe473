package lake

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/models"
)

// Rejected is a lake file that could not be parsed.
type Rejected struct {
	Path string
	Err  error
}

// ReadResult is the merged content of a lake directory.
type ReadResult struct {
	Records  []models.Message
	Files    []string
	Rejected []Rejected
}

// Reader discovers and parses lake files.
type Reader struct {
	logger *zap.Logger
}

// NewReader creates a lake reader.
func NewReader(logger *zap.Logger) *Reader {
	return &Reader{logger: logger}
}

// Read walks root recursively and returns every record found in .json and
// .csv files, concatenated in discovery order. A malformed file is logged,
// reported in Rejected and skipped. A missing or empty root yields an empty
// result.
func (r *Reader) Read(root string) (*ReadResult, error) {
	res := &ReadResult{}

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("Lake directory not found", zap.String("dir", root))
			return res, nil
		}
		return nil, fmt.Errorf("failed to stat lake directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("lake root %s is not a directory", root)
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// An unreadable subtree is treated like a bad file.
			r.reject(res, path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		var records []models.Message
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			records, err = readJSONFile(path)
		case ".csv":
			records, err = readCSVFile(path)
		default:
			return nil
		}
		if err != nil {
			r.reject(res, path, err)
			return nil
		}

		res.Files = append(res.Files, path)
		res.Records = append(res.Records, records...)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("failed to walk lake directory: %w", walkErr)
	}

	if len(res.Files) == 0 && len(res.Rejected) == 0 {
		r.logger.Warn("No lake files found", zap.String("dir", root))
	}
	r.logger.Info("Read records from lake",
		zap.String("dir", root),
		zap.Int("files", len(res.Files)),
		zap.Int("records", len(res.Records)),
		zap.Int("rejected_files", len(res.Rejected)))

	return res, nil
}

func (r *Reader) reject(res *ReadResult, path string, err error) {
	r.logger.Error("Skipping invalid lake file", zap.String("path", path), zap.Error(err))
	res.Rejected = append(res.Rejected, Rejected{Path: path, Err: err})
}

// readJSONFile accepts either a single object or an array of objects.
func readJSONFile(path string) ([]models.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty file")
	}

	if trimmed[0] == '[' {
		var list []models.Message
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
		return list, nil
	}

	var one models.Message
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	return []models.Message{one}, nil
}

// readCSVFile maps rows by header name onto the lake record fields. Unknown
// columns are ignored.
func readCSVFile(path string) ([]models.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	if _, ok := col["message_id"]; !ok {
		return nil, errors.New("CSV has no message_id column")
	}

	var out []models.Message
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		msg, err := messageFromRow(row, col)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func messageFromRow(row []string, col map[string]int) (models.Message, error) {
	get := func(name string) string {
		if i, ok := col[name]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var msg models.Message
	id, err := strconv.ParseInt(get("message_id"), 10, 64)
	if err != nil {
		return msg, fmt.Errorf("invalid message_id: %w", err)
	}
	msg.MessageID = id
	msg.ChannelName = get("channel_name")
	msg.MessageText = get("message_text")
	msg.Views = atoiOrZero(get("views"))
	msg.Forwards = atoiOrZero(get("forwards"))
	msg.HasMedia, _ = strconv.ParseBool(get("has_media"))
	if s := get("message_date"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return msg, fmt.Errorf("invalid message_date: %w", err)
		}
		msg.MessageDate = t
	}
	if s := get("image_path"); s != "" {
		msg.ImagePath = &s
	}
	return msg, nil
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		if f, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			return int(f)
		}
		return 0
	}
	return n
}
