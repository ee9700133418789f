package editlog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	xdr "github.com/rasky/go-xdr/xdr2"

	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/namespace"
	"github.com/marmos91/dittonn/pkg/metadata/storage"
)

// HeaderSize is the size of an edit segment that holds no records: the
// big-endian int32 layout version.
const HeaderSize = 4

// Record framing (big-endian):
//
//	op       uint8
//	txid     uint64
//	length   uint32  payload length
//	payload  [length]byte  XDR-encoded op body
//	checksum uint64  xxhash64 of op..payload
const (
	recordPrefixSize  = 1 + 8 + 4
	recordTrailerSize = 8

	// maxPayloadSize bounds a single record so that a corrupted length
	// cannot trigger a huge allocation.
	maxPayloadSize = 16 << 20
)

// Record is one logged mutation.
type Record struct {
	TxID uint64
	Op   namespace.Op
}

type wireBlock struct {
	ID              uint64
	NumBytes        uint64
	GenerationStamp uint64
}

type wireOp struct {
	Path        string
	Dst         string
	Replication uint32
	Mtime       int64
	Recursive   bool
	Blocks      []wireBlock
}

// EncodeRecord returns the framed bytes of r.
func EncodeRecord(r Record) ([]byte, error) {
	body := wireOp{
		Path:        r.Op.Path,
		Dst:         r.Op.Dst,
		Replication: uint32(r.Op.Replication),
		Mtime:       r.Op.Mtime,
		Recursive:   r.Op.Recursive,
		Blocks:      make([]wireBlock, 0, len(r.Op.Blocks)),
	}
	for _, b := range r.Op.Blocks {
		body.Blocks = append(body.Blocks, wireBlock(b))
	}

	var payload bytes.Buffer
	if _, err := xdr.Marshal(&payload, &body); err != nil {
		return nil, fmt.Errorf("encode %s record: %w", r.Op.Code, err)
	}

	buf := make([]byte, recordPrefixSize, recordPrefixSize+payload.Len()+recordTrailerSize)
	buf[0] = byte(r.Op.Code)
	binary.BigEndian.PutUint64(buf[1:9], r.TxID)
	binary.BigEndian.PutUint32(buf[9:13], uint32(payload.Len()))
	buf = append(buf, payload.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, xxhash.Sum64(buf))
	return buf, nil
}

// EncodeHeader returns the segment header.
func EncodeHeader() []byte {
	lv := storage.LayoutVersion
	return binary.BigEndian.AppendUint32(nil, uint32(lv))
}

// Decoder reads records from a segment stream.
type Decoder struct {
	r    *bufio.Reader
	name string
	torn bool
}

// NewDecoder reads and verifies the segment header.
func NewDecoder(r io.Reader, name string) (*Decoder, error) {
	br := bufio.NewReader(r)
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, merrs.NewCorruptedError(name, "missing edit segment header")
	}
	if lv := int32(binary.BigEndian.Uint32(hdr[:])); lv != storage.LayoutVersion {
		return nil, merrs.NewCorruptedError(name,
			fmt.Sprintf("unsupported layout version %d (expected %d)", lv, storage.LayoutVersion))
	}
	return &Decoder{r: br, name: name}, nil
}

// Next returns the next record, or io.EOF at the end of the segment. A
// record cut short by a crash ends the segment; Torn reports it.
func (d *Decoder) Next() (Record, error) {
	var prefix [recordPrefixSize]byte
	n, err := io.ReadFull(d.r, prefix[:])
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return Record{}, io.EOF
		}
		d.torn = true
		return Record{}, io.EOF
	}

	length := binary.BigEndian.Uint32(prefix[9:13])
	if length > maxPayloadSize {
		return Record{}, merrs.NewCorruptedError(d.name, fmt.Sprintf("record length %d out of range", length))
	}

	rest := make([]byte, int(length)+recordTrailerSize)
	if _, err := io.ReadFull(d.r, rest); err != nil {
		d.torn = true
		return Record{}, io.EOF
	}

	payload := rest[:length]
	want := binary.BigEndian.Uint64(rest[length:])
	h := xxhash.New()
	_, _ = h.Write(prefix[:])
	_, _ = h.Write(payload)
	if h.Sum64() != want {
		return Record{}, merrs.NewCorruptedError(d.name,
			fmt.Sprintf("checksum mismatch for txid %d", binary.BigEndian.Uint64(prefix[1:9])))
	}

	var body wireOp
	if _, err := xdr.Unmarshal(bytes.NewReader(payload), &body); err != nil {
		return Record{}, merrs.NewCorruptedError(d.name, "undecodable record payload: "+err.Error())
	}

	op := namespace.Op{
		Code:        namespace.OpCode(prefix[0]),
		Path:        body.Path,
		Dst:         body.Dst,
		Replication: uint16(body.Replication),
		Mtime:       body.Mtime,
		Recursive:   body.Recursive,
	}
	if len(body.Blocks) > 0 {
		op.Blocks = make([]namespace.Block, len(body.Blocks))
		for i, b := range body.Blocks {
			op.Blocks[i] = namespace.Block(b)
		}
	}
	return Record{TxID: binary.BigEndian.Uint64(prefix[1:9]), Op: op}, nil
}

// Torn reports whether the segment ended in a partially written record.
func (d *Decoder) Torn() bool { return d.torn }

// DecodeAll reads every record of a segment stream.
func DecodeAll(r io.Reader, name string) ([]Record, error) {
	recs, _, err := decodeAll(r, name)
	return recs, err
}

// decodeAll is DecodeAll that also reports a dropped torn tail.
func decodeAll(r io.Reader, name string) (recs []Record, torn bool, err error) {
	dec, err := NewDecoder(r, name)
	if err != nil {
		return nil, false, err
	}
	for {
		rec, err := dec.Next()
		if err == io.EOF {
			return recs, dec.Torn(), nil
		}
		if err != nil {
			return recs, false, err
		}
		recs = append(recs, rec)
	}
}
