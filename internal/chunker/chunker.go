// Package chunker splits diary text into overlapping spans sized for
// embedding.
package chunker

import (
	"fmt"

	"github.com/felixgeelhaar/diario/internal/fault"
)

// Defaults used when the configuration leaves chunking unset.
const (
	DefaultSize    = 500
	DefaultOverlap = 50
)

// Options controls span length and overlap, both counted in runes.
type Options struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// DefaultOptions returns the chunking used for new diaries.
func DefaultOptions() Options {
	return Options{Size: DefaultSize, Overlap: DefaultOverlap}
}

// ConfigError reports an unusable size/overlap pair.
type ConfigError struct {
	Size    int
	Overlap int
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid chunk config: size=%d overlap=%d (need size > 0 and 0 <= overlap < size)", e.Size, e.Overlap)
}

// Is makes a ConfigError match fault.ErrInput.
func (e *ConfigError) Is(target error) bool {
	return target == fault.ErrInput
}

// Validate checks the options without chunking anything.
func (o Options) Validate() error {
	if o.Size <= 0 || o.Overlap < 0 || o.Overlap >= o.Size {
		return &ConfigError{Size: o.Size, Overlap: o.Overlap}
	}
	return nil
}

// Span is one chunk of a text. Start and End are byte offsets into the
// source and always fall on rune boundaries, so Text == source[Start:End].
type Span struct {
	Seq   int
	Start int
	End   int
	Text  string
}

// Chunk splits text into spans of at most opts.Size runes. Consecutive
// spans share opts.Overlap runes. Empty text yields no spans and no error.
func Chunk(text string, opts Options) ([]Span, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	// offsets[i] is the byte offset of rune i; the extra entry marks the end.
	offsets := make([]int, 0, len(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	runes := len(offsets)
	offsets = append(offsets, len(text))

	stride := opts.Size - opts.Overlap
	spans := make([]Span, 0, runes/stride+1)
	for start := 0; ; start += stride {
		end := start + opts.Size
		if end > runes {
			end = runes
		}
		spans = append(spans, Span{
			Seq:   len(spans),
			Start: offsets[start],
			End:   offsets[end],
			Text:  text[offsets[start]:offsets[end]],
		})
		if end == runes {
			break
		}
	}
	return spans, nil
}
