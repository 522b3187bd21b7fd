package binlog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/hanyunqi/faststore/cmn"
)

// RecordOp is the operation a binlog record describes, carried over from
// the original implementation's explicit op codes (binlog_types.h) rather
// than inferred from the record body's shape.
type RecordOp uint8

const (
	OpNone RecordOp = iota
	OpAddSlice
	OpDeleteSlice
	OpDeleteBlock
)

func (op RecordOp) String() string {
	switch op {
	case OpAddSlice:
		return "add-slice"
	case OpDeleteSlice:
		return "delete-slice"
	case OpDeleteBlock:
		return "delete-block"
	default:
		return "no-op"
	}
}

var recordJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Record is one binlog entry. Version is meaningful only in order-by-version
// mode (spec §4.E); order-by-none writers leave it zero. Body is the
// op-specific payload (e.g. an AddSliceBody), JSON-encoded.
type Record struct {
	Version   uint64
	Timestamp int64
	Op        RecordOp
	Body      []byte
}

// AddSliceBody is the Body payload for OpAddSlice/OpDeleteSlice records -
// everything a follower needs to replay the mutation against its own index
// and allocator.
type AddSliceBody struct {
	OID       uint64 `json:"oid"`
	BlockOff  uint64 `json:"block_off"`
	SliceOff  int    `json:"slice_off"`
	SliceLen  int    `json:"slice_len"`
	PathIndex int    `json:"path_index"`
	TrunkID   uint64 `json:"trunk_id"`
	Subdir    uint32 `json:"subdir"`
	Offset    int64  `json:"offset"`
	Size      int64  `json:"size"`
}

func EncodeAddSliceBody(b AddSliceBody) ([]byte, error) {
	return recordJSON.Marshal(b)
}

func DecodeAddSliceBody(raw []byte) (AddSliceBody, error) {
	var b AddSliceBody
	err := recordJSON.Unmarshal(raw, &b)
	return b, err
}

// EncodeRecord self-delimits r the same way the writer's on-disk framing
// does, for transmission over a replication channel as a PUSH_BINLOG frame
// body (spec §4.F "serialises records, writes them").
func EncodeRecord(r Record) []byte {
	return encode(r)
}

// DecodeRecord parses a single self-delimited record received as a
// PUSH_BINLOG frame body - the follower-side counterpart to EncodeRecord.
func DecodeRecord(buf []byte) (Record, error) {
	r, _, err := decodeOne(bufio.NewReader(bytes.NewReader(buf)))
	return r, err
}

// recordHeaderSize is len(Version)+len(Timestamp)+len(Op), all fixed-width,
// preceding the length-prefixed Body.
const recordHeaderSize = 8 + 8 + 1

// encode self-delimits a record: a 4-byte big-endian total length prefix
// followed by the fixed header and the body, so a crash-truncated record is
// unambiguous to detect on recovery (spec §4.E "self-delimited").
func encode(r Record) []byte {
	total := recordHeaderSize + len(r.Body)
	buf := make([]byte, 4+total)
	binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	binary.BigEndian.PutUint64(buf[4:12], r.Version)
	binary.BigEndian.PutUint64(buf[12:20], uint64(r.Timestamp))
	buf[20] = byte(r.Op)
	copy(buf[21:], r.Body)
	return buf
}

// decodeOne reads a single record from br. It returns io.EOF cleanly at a
// file boundary, and io.ErrUnexpectedEOF for a crash-truncated record (the
// length prefix was readable but the body was not) - the distinction the
// recovery scan needs to find the last well-formed boundary.
func decodeOne(br *bufio.Reader) (Record, int, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(br, lenBuf); err != nil {
		return Record{}, 0, err
	}
	total := binary.BigEndian.Uint32(lenBuf)
	if total < recordHeaderSize {
		return Record{}, 0, cmn.NewError(cmn.ErrIO, "corrupt binlog record length")
	}
	body := make([]byte, total)
	if _, err := io.ReadFull(br, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Record{}, 0, err
	}
	r := Record{
		Version:   binary.BigEndian.Uint64(body[0:8]),
		Timestamp: int64(binary.BigEndian.Uint64(body[8:16])),
		Op:        RecordOp(body[16]),
		Body:      append([]byte(nil), body[recordHeaderSize:]...),
	}
	return r, 4 + int(total), nil
}
