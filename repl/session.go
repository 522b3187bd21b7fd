package repl

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/hanyunqi/faststore/binlog"
	"github.com/hanyunqi/faststore/cmn"
	"github.com/hanyunqi/faststore/topology"
	"github.com/hanyunqi/faststore/transport"
)

var sessionJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	backoffBase = time.Second
	backoffMax  = 30 * time.Second
)

// JoinBody is the JOIN_SERVER request payload (spec §4.F "JOIN request
// sent with (server_id, channel_index, last_known_data_version)").
type JoinBody struct {
	ServerID        uint64 `json:"server_id"`
	ChannelIndex    int    `json:"channel_index"`
	LastDataVersion uint64 `json:"last_data_version"`
}

// Dial drives a client-side channel through CONNECTING -> WAITING_JOIN_RESP
// -> SYNCING (spec §4.F): it dials addr, sends a JOIN request carrying the
// channel's absolute index and the highest version already on disk for this
// peer, and waits for the accept response. Any failure backs the channel
// off and returns it to NONE.
func Dial(ctx context.Context, c *Channel, selfID uint64, addr string, lastVersion uint64, timeout time.Duration) (net.Conn, error) {
	c.SetState(StateConnecting)
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.FailAndBackoff(backoffBase, backoffMax, time.Now())
		return nil, cmn.WrapError(cmn.ErrPeerDisconnected, "dial replication peer", err)
	}

	c.SetState(StateWaitingJoinResp)
	body, err := sessionJSON.Marshal(JoinBody{ServerID: selfID, ChannelIndex: c.LinkIndex, LastDataVersion: lastVersion})
	if err != nil {
		conn.Close()
		c.FailAndBackoff(backoffBase, backoffMax, time.Now())
		return nil, cmn.WrapError(cmn.ErrIO, "encode join request", err)
	}
	if err := transport.WriteFrame(conn, transport.CmdJoinServer, 0, body); err != nil {
		conn.Close()
		c.FailAndBackoff(backoffBase, backoffMax, time.Now())
		return nil, err
	}

	cmd, status, _, err := transport.ReadFrame(conn)
	if err != nil {
		conn.Close()
		c.FailAndBackoff(backoffBase, backoffMax, time.Now())
		return nil, err
	}
	if cmd != transport.CmdJoinServer || status != 0 {
		conn.Close()
		c.FailAndBackoff(backoffBase, backoffMax, time.Now())
		return nil, cmn.NewError(cmn.ErrProtocolViolation, "join rejected by peer")
	}

	c.ResetBackoff()
	c.SetState(StateSyncing)
	return conn, nil
}

// Accept drives a server-side channel's JOIN handshake: it reads the JOIN
// request off conn, resolves the channel it names via registry, and replies
// with acceptance. The caller takes over conn (RunFollower) once this
// returns.
func Accept(conn net.Conn, registry *Registry) (*Channel, JoinBody, error) {
	cmd, _, body, err := transport.ReadFrame(conn)
	if err != nil {
		return nil, JoinBody{}, err
	}
	if cmd != transport.CmdJoinServer {
		transport.WriteFrame(conn, transport.CmdJoinServer, 1, nil)
		return nil, JoinBody{}, cmn.NewError(cmn.ErrProtocolViolation, "expected JOIN_SERVER")
	}
	var jb JoinBody
	if err := sessionJSON.Unmarshal(body, &jb); err != nil {
		transport.WriteFrame(conn, transport.CmdJoinServer, 1, nil)
		return nil, JoinBody{}, cmn.WrapError(cmn.ErrProtocolViolation, "decode join request", err)
	}

	c := registry.ChannelByAbsoluteIndex(jb.ServerID, jb.ChannelIndex)
	if c == nil {
		transport.WriteFrame(conn, transport.CmdJoinServer, 1, nil)
		return nil, jb, cmn.NewError(cmn.ErrNotFound, "no channel at requested index")
	}
	c.SetState(StateWaitingJoinResp)
	if err := transport.WriteFrame(conn, transport.CmdJoinServer, 0, nil); err != nil {
		return nil, jb, err
	}
	c.ResetBackoff()
	c.SetState(StateSyncing)
	return c, jb, nil
}

// connSender is topology.Sender bound to one channel's live connection, so
// PUSH_DATA_SERVER_STATUS frames interleave with PUSH_BINLOG traffic on the
// same socket instead of needing one of their own (spec §4.G depends on
// §4.F's channels to deliver its pushes).
type connSender struct{ conn net.Conn }

func (s connSender) Send(peerID int, body []byte) error {
	return transport.WriteFrame(s.conn, transport.CmdPushDataServerStatus, 0, body)
}

// RunMaster drains c.RPCQueue onto conn as PUSH_BINLOG frames, retires
// entries from c.Results as ACKs arrive, and periodically flushes any
// pending topology-status batch for this peer over the same connection,
// until conn fails, the queue is closed, or ctx is cancelled - in which
// case it sends an explicit SHUTDOWN frame first so the follower can tell a
// graceful close from a fault (spec §9 open question on shutdown
// ordering). notifier may be nil, e.g. in tests that only exercise the
// binlog path.
func RunMaster(ctx context.Context, c *Channel, conn net.Conn, notifier *topology.Notifier, statusPeriod time.Duration) error {
	ackErr := make(chan error, 1)
	go func() { ackErr <- readAcks(c, conn) }()

	var tickCh <-chan time.Time
	if notifier != nil {
		ticker := time.NewTicker(statusPeriod)
		defer ticker.Stop()
		tickCh = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			transport.WriteFrame(conn, transport.CmdShutdown, 0, nil)
			conn.Close()
			return ctx.Err()
		case err := <-ackErr:
			conn.Close()
			c.Deactivate()
			return err
		case <-tickCh:
			if err := notifier.SendPending(int(c.PeerID), connSender{conn}); err != nil {
				conn.Close()
				c.Deactivate()
				return err
			}
		case e, ok := <-c.RPCQueue:
			if !ok {
				transport.WriteFrame(conn, transport.CmdShutdown, 0, nil)
				conn.Close()
				return nil
			}
			c.MarkPosted()
			c.Results.Push(e)
			if err := transport.WriteFrame(conn, transport.CmdPushBinlog, 0, e.Record); err != nil {
				conn.Close()
				c.Deactivate()
				return err
			}
		}
	}
}

func readAcks(c *Channel, conn net.Conn) error {
	for {
		cmd, status, body, err := transport.ReadFrame(conn)
		if err != nil {
			return err
		}
		switch cmd {
		case transport.CmdAck:
			if len(body) < 8 {
				return cmn.NewError(cmn.ErrProtocolViolation, "short ack body")
			}
			acked := binary.BigEndian.Uint64(body[:8])
			c.Results.Ack(acked, int32(status))
		case transport.CmdShutdown:
			return io.EOF
		default:
			return cmn.NewError(cmn.ErrProtocolViolation, "unexpected frame on master side")
		}
	}
}

// RunFollower reads PUSH_BINLOG frames off conn, decodes and routes each to
// router for application against the local index, and acks every record's
// version back to the master - until conn fails, SHUTDOWN arrives, or ctx
// is cancelled (spec §4.F "each received record is routed to the data-
// thread ... applied ... and then acked").
//
// Each record is acked with its own version, not the highest contiguous
// version, once the router has applied it. Records are applied in arrival
// order through the router's Applier; with IndexApplier that updates the
// local index only - the follower does not append the record to a local
// binlog before acking it.
func RunFollower(ctx context.Context, c *Channel, conn net.Conn, dataGroupID uint64, router *Router) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		cmd, _, body, err := transport.ReadFrame(conn)
		if err != nil {
			return err
		}
		switch cmd {
		case transport.CmdShutdown:
			conn.Close()
			return nil
		case transport.CmdPushBinlog:
			c.MarkPosted()
			rec, err := binlog.DecodeRecord(body)
			if err != nil {
				return err
			}
			ack := make(chan int32, 1)
			router.Route(InboundRecord{
				DataGroupID: dataGroupID,
				Record:      rec,
				Ack:         func(errNo int32) { ack <- errNo },
			})
			errNo := <-ack
			ackBody := make([]byte, 8)
			binary.BigEndian.PutUint64(ackBody, rec.Version)
			if err := transport.WriteFrame(conn, transport.CmdAck, uint8(errNo), ackBody); err != nil {
				return err
			}
		default:
			return cmn.NewError(cmn.ErrProtocolViolation, "unexpected frame on follower side")
		}
	}
}
