package transport

import (
	"encoding/binary"
	"io"

	"github.com/hanyunqi/faststore/cmn"
)

// Command is the replication wire protocol's single-byte opcode (spec §4.F
// / §8 external interfaces).
type Command uint8

const (
	CmdJoinServer Command = iota
	CmdPushBinlog
	CmdAck
	CmdPushDataServerStatus
	// CmdShutdown lets a peer announce a graceful channel close, so the
	// receiving side can tell it apart from a fault (§9 open question on
	// shutdown ordering).
	CmdShutdown
)

func (c Command) String() string {
	switch c {
	case CmdJoinServer:
		return "JOIN_SERVER"
	case CmdPushBinlog:
		return "PUSH_BINLOG"
	case CmdAck:
		return "ACK"
	case CmdPushDataServerStatus:
		return "PUSH_DATA_SERVER_STATUS"
	case CmdShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// headerSize is cmd(1) + status(1) + body_len(4) + padding(2) = 8 bytes.
const headerSize = 8

// WriteFrame writes one wire frame: an 8-byte header followed by body.
func WriteFrame(w io.Writer, cmd Command, status uint8, body []byte) error {
	hdr := make([]byte, headerSize)
	hdr[0] = byte(cmd)
	hdr[1] = status
	binary.BigEndian.PutUint32(hdr[2:6], uint32(len(body)))
	if _, err := w.Write(hdr); err != nil {
		return cmn.WrapError(cmn.ErrPeerDisconnected, "write frame header", err)
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return cmn.WrapError(cmn.ErrPeerDisconnected, "write frame body", err)
		}
	}
	return nil
}

// ReadFrame reads one wire frame from r.
func ReadFrame(r io.Reader) (Command, uint8, []byte, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return 0, 0, nil, cmn.WrapError(cmn.ErrPeerDisconnected, "read frame header", err)
	}
	cmd := Command(hdr[0])
	status := hdr[1]
	bodyLen := binary.BigEndian.Uint32(hdr[2:6])
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, 0, nil, cmn.WrapError(cmn.ErrPeerDisconnected, "read frame body", err)
		}
	}
	return cmd, status, body, nil
}
