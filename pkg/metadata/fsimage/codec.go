package fsimage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	xdr "github.com/rasky/go-xdr/xdr2"

	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/namespace"
)

// Info identifies an image: the namespace generation it belongs to and the
// last transaction it covers.
type Info struct {
	LayoutVersion int32
	NamespaceID   uint32
	ClusterID     string
	BlockPoolID   string
	TxID          uint64
}

// Image is a namespace snapshot at Info.TxID.
type Image struct {
	Info      Info
	Namespace *namespace.Namespace
}

// Codec serializes images. Encode must be deterministic: the same image
// always produces the same bytes.
type Codec interface {
	Encode(w io.Writer, img *Image) error
	Decode(r io.Reader) (*Image, error)
	// DecodeInfo reads only the header.
	DecodeInfo(r io.Reader) (Info, error)
}

const imageMagic uint32 = 0x444e4e49 // "DNNI"

type imageHeader struct {
	Magic         uint32
	LayoutVersion int32
	NamespaceID   uint32
	ClusterID     string
	BlockPoolID   string
	TxID          uint64
	Entries       uint64
}

type wireBlock struct {
	ID              uint64
	NumBytes        uint64
	GenerationStamp uint64
}

type wireEntry struct {
	Path        string
	Type        uint32
	Replication uint32
	Mtime       int64
	Target      string
	Blocks      []wireBlock
}

// XDRCodec is the default image format: an XDR header, one XDR record per
// entry in namespace walk order, and an xxhash64 trailer over everything
// before it.
type XDRCodec struct{}

// Encode implements Codec.
func (XDRCodec) Encode(w io.Writer, img *Image) error {
	bw := bufio.NewWriter(w)
	h := xxhash.New()
	mw := io.MultiWriter(bw, h)

	hdr := imageHeader{
		Magic:         imageMagic,
		LayoutVersion: img.Info.LayoutVersion,
		NamespaceID:   img.Info.NamespaceID,
		ClusterID:     img.Info.ClusterID,
		BlockPoolID:   img.Info.BlockPoolID,
		TxID:          img.Info.TxID,
		Entries:       uint64(img.Namespace.Len() + 1),
	}
	if _, err := xdr.Marshal(mw, &hdr); err != nil {
		return fmt.Errorf("encode image header: %w", err)
	}

	err := img.Namespace.Walk(func(e namespace.Entry) error {
		we := wireEntry{
			Path:        e.Path,
			Type:        uint32(e.Type),
			Replication: uint32(e.Replication),
			Mtime:       e.Mtime,
			Target:      e.Target,
			Blocks:      make([]wireBlock, 0, len(e.Blocks)),
		}
		for _, b := range e.Blocks {
			we.Blocks = append(we.Blocks, wireBlock(b))
		}
		_, err := xdr.Marshal(mw, &we)
		return err
	})
	if err != nil {
		return fmt.Errorf("encode image entry: %w", err)
	}

	if err := binary.Write(bw, binary.BigEndian, h.Sum64()); err != nil {
		return err
	}
	return bw.Flush()
}

// DecodeInfo implements Codec.
func (XDRCodec) DecodeInfo(r io.Reader) (Info, error) {
	var hdr imageHeader
	if _, err := xdr.Unmarshal(r, &hdr); err != nil {
		return Info{}, merrs.NewCorruptedError("", "unreadable image header: "+err.Error())
	}
	if hdr.Magic != imageMagic {
		return Info{}, merrs.NewCorruptedError("", "not an image file")
	}
	return hdr.info(), nil
}

func (hdr imageHeader) info() Info {
	return Info{
		LayoutVersion: hdr.LayoutVersion,
		NamespaceID:   hdr.NamespaceID,
		ClusterID:     hdr.ClusterID,
		BlockPoolID:   hdr.BlockPoolID,
		TxID:          hdr.TxID,
	}
}

// Decode implements Codec.
func (XDRCodec) Decode(r io.Reader) (*Image, error) {
	br := bufio.NewReader(r)
	h := xxhash.New()
	tee := io.TeeReader(br, h)

	var hdr imageHeader
	if _, err := xdr.Unmarshal(tee, &hdr); err != nil {
		return nil, merrs.NewCorruptedError("", "unreadable image header: "+err.Error())
	}
	if hdr.Magic != imageMagic {
		return nil, merrs.NewCorruptedError("", "not an image file")
	}

	b := namespace.NewBuilder()
	for i := uint64(0); i < hdr.Entries; i++ {
		var we wireEntry
		if _, err := xdr.Unmarshal(tee, &we); err != nil {
			return nil, merrs.NewCorruptedError("", fmt.Sprintf("unreadable image entry %d: %v", i, err))
		}
		e := namespace.Entry{
			Path:        we.Path,
			Type:        namespace.EntryType(we.Type),
			Replication: uint16(we.Replication),
			Mtime:       we.Mtime,
			Target:      we.Target,
		}
		if len(we.Blocks) > 0 {
			e.Blocks = make([]namespace.Block, len(we.Blocks))
			for j, wb := range we.Blocks {
				e.Blocks[j] = namespace.Block(wb)
			}
		}
		if err := b.Add(e); err != nil {
			return nil, err
		}
	}

	var sum uint64
	if err := binary.Read(br, binary.BigEndian, &sum); err != nil {
		return nil, merrs.NewCorruptedError("", "missing image checksum")
	}
	if sum != h.Sum64() {
		return nil, merrs.NewCorruptedError("", "image checksum mismatch")
	}
	if _, err := br.ReadByte(); !errors.Is(err, io.EOF) {
		return nil, merrs.NewCorruptedError("", "trailing data after image checksum")
	}

	return &Image{Info: hdr.info(), Namespace: b.Namespace()}, nil
}
