package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/relab/vetomint"
)

// ErrMalformed is returned when a log cannot be decoded.
var ErrMalformed = errors.New("malformed event log")

// Format is the encoding of a log.
type Format string

const (
	// FormatJSON writes one JSON object per line.
	FormatJSON Format = "json"
	// FormatCBOR writes a sequence of CBOR data items.
	FormatCBOR Format = "cbor"
)

// Formats returns the names of the supported formats.
func Formats() []string {
	return []string{string(FormatJSON), string(FormatCBOR)}
}

type encoder interface {
	Encode(v any) error
}

type decoder interface {
	Decode(v any) error
}

func newEncoder(w io.Writer, format Format) (encoder, error) {
	switch format {
	case FormatJSON, "":
		return json.NewEncoder(w), nil
	case FormatCBOR:
		return cbor.NewEncoder(w), nil
	}
	return nil, fmt.Errorf("unknown event log format: %q", format)
}

func newDecoder(r io.Reader, format Format) (decoder, error) {
	switch format {
	case FormatJSON, "":
		return json.NewDecoder(r), nil
	case FormatCBOR:
		return cbor.NewDecoder(r), nil
	}
	return nil, fmt.Errorf("unknown event log format: %q", format)
}

// Writer writes a log. It is safe for concurrent use.
type Writer struct {
	mut sync.Mutex
	enc encoder
}

// NewWriter returns a writer that encodes the log in the given format.
func NewWriter(w io.Writer, format Format) (*Writer, error) {
	enc, err := newEncoder(w, format)
	if err != nil {
		return nil, err
	}
	return &Writer{enc: enc}, nil
}

// WriteHeight writes the height info. It must be the first record of a log.
func (w *Writer) WriteHeight(info vetomint.HeightInfo) error {
	return w.write(&record{Height: &info})
}

// WriteProgress writes an event and the responses it produced.
func (w *Writer) WriteProgress(event vetomint.ConsensusEvent, responses []vetomint.ConsensusResponse) error {
	er, err := toEventRecord(event)
	if err != nil {
		return err
	}
	r := &record{Event: er}
	for _, resp := range responses {
		rr, err := toResponseRecord(resp)
		if err != nil {
			return err
		}
		r.Responses = append(r.Responses, rr)
	}
	return w.write(r)
}

func (w *Writer) write(r *record) error {
	w.mut.Lock()
	defer w.mut.Unlock()
	if err := w.enc.Encode(r); err != nil {
		return fmt.Errorf("failed to write event log record: %w", err)
	}
	return nil
}

// Reader reads a log.
type Reader struct {
	dec decoder
}

// NewReader returns a reader that decodes a log in the given format.
func NewReader(r io.Reader, format Format) (*Reader, error) {
	dec, err := newDecoder(r, format)
	if err != nil {
		return nil, err
	}
	return &Reader{dec: dec}, nil
}

// Next returns the next entry of the log, or io.EOF at the end of the log.
func (r *Reader) Next() (Entry, error) {
	var rec record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, io.EOF
		}
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return rec.entry()
}

// ReadAll returns the height info and the remaining entries of the log.
func (r *Reader) ReadAll() (info vetomint.HeightInfo, entries []Entry, err error) {
	first, err := r.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: empty log", ErrMalformed)
		}
		return info, nil, err
	}
	if first.Height == nil {
		return info, nil, fmt.Errorf("%w: log does not start with the height info", ErrMalformed)
	}
	for {
		entry, err := r.Next()
		if errors.Is(err, io.EOF) {
			return *first.Height, entries, nil
		}
		if err != nil {
			return info, nil, err
		}
		if entry.Height != nil {
			return info, nil, fmt.Errorf("%w: more than one height in log", ErrMalformed)
		}
		entries = append(entries, entry)
	}
}
