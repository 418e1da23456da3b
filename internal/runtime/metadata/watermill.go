package metadata

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
)

// ErrMissingHeader is returned when a required sample header is absent.
var ErrMissingHeader = errors.New("metadata: missing sample header")

// ToWatermill encodes the sample headers into Watermill metadata.
func (s Sample) ToWatermill() message.Metadata {
	md := message.Metadata{
		KeyWriter:    s.Writer,
		KeySequence:  strconv.FormatUint(s.Sequence, 10),
		KeyType:      s.TypeName,
		KeyPartition: s.Partition,
	}
	if len(s.Key) > 0 {
		md[KeyInstance] = base64.RawURLEncoding.EncodeToString(s.Key)
	}
	if s.Replay {
		md[KeyReplay] = "true"
	}
	if s.Reliable {
		md[KeyReliable] = "true"
	}
	if s.TransientLocal {
		md[KeyTransientLocal] = "true"
	}
	return md
}

// FromWatermill decodes sample headers. Writer and sequence are required.
func FromWatermill(md message.Metadata) (Sample, error) {
	writer := md.Get(KeyWriter)
	if writer == "" {
		return Sample{}, fmt.Errorf("%w: %s", ErrMissingHeader, KeyWriter)
	}
	rawSeq := md.Get(KeySequence)
	if rawSeq == "" {
		return Sample{}, fmt.Errorf("%w: %s", ErrMissingHeader, KeySequence)
	}
	seq, err := strconv.ParseUint(rawSeq, 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("metadata: invalid sequence %q: %w", rawSeq, err)
	}

	s := Sample{
		Writer:    writer,
		Sequence:  seq,
		TypeName:  md.Get(KeyType),
		Partition: md.Get(KeyPartition),
		Replay:    md.Get(KeyReplay) == "true",

		Reliable:       md.Get(KeyReliable) == "true",
		TransientLocal: md.Get(KeyTransientLocal) == "true",
	}
	if raw := md.Get(KeyInstance); raw != "" {
		key, err := base64.RawURLEncoding.DecodeString(raw)
		if err != nil {
			return Sample{}, fmt.Errorf("metadata: invalid instance key: %w", err)
		}
		s.Key = key
	}
	return s, nil
}
