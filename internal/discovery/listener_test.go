package discovery

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taoyao-code/brick-gateway/internal/metrics"
)

type datagram struct {
	data []byte
	from net.Addr
}

type sentReply struct {
	data []byte
	to   string
}

// fakeConn 内存 PacketConn：按序投递报文，按序返回预设的写错误
type fakeConn struct {
	mu        sync.Mutex
	in        chan datagram
	writeErrs []error
	writes    []sentReply
	deadline  chan struct{}
	once      sync.Once
	port      int
}

func newFakeConn(port int) *fakeConn {
	return &fakeConn{in: make(chan datagram, 16), deadline: make(chan struct{}), port: port}
}

func (f *fakeConn) push(data []byte, from string) {
	addr, err := net.ResolveUDPAddr("udp4", from)
	if err != nil {
		panic(err)
	}
	f.in <- datagram{data: data, from: addr}
}

func (f *fakeConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case d, ok := <-f.in:
		if !ok {
			return 0, nil, net.ErrClosed
		}
		return copy(p, d.data), d.from, nil
	case <-f.deadline:
		return 0, nil, os.ErrDeadlineExceeded
	}
}

func (f *fakeConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dup := make([]byte, len(p))
	copy(dup, p)
	f.writes = append(f.writes, sentReply{data: dup, to: addr.String()})
	if len(f.writeErrs) > 0 {
		err := f.writeErrs[0]
		f.writeErrs = f.writeErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (f *fakeConn) sent() []sentReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentReply(nil), f.writes...)
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4zero, Port: f.port}
}

func (f *fakeConn) SetDeadline(t time.Time) error { return f.SetReadDeadline(t) }

func (f *fakeConn) SetReadDeadline(t time.Time) error {
	if !t.IsZero() && t.Before(time.Now()) {
		f.once.Do(func() { close(f.deadline) })
	}
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func testOptions(port int) Options {
	return Options{Port: port, ControlPort: 65131, Token: []byte("passw")}
}

func TestPair_RepliesOnDiscoveryPort(t *testing.T) {
	conn := newFakeConn(65130)
	conn.push([]byte("hello"), "10.0.0.5:4000")

	l := NewListener(conn, testOptions(65130), zap.NewNop(), nil)
	peer, err := l.Pair(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", peer.Host)
	assert.Equal(t, 65130, peer.DiscoveryPort)
	assert.Equal(t, 65131, peer.ControlPort)
	assert.Equal(t, "10.0.0.5:65131", peer.ControlAddr())
	assert.False(t, peer.PairedAt.IsZero())

	sent := conn.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "10.0.0.5:65130", sent[0].to)
	assert.Equal(t, []byte("passw"), sent[0].data)
}

func TestPair_ReplyIsTokenRegardlessOfContent(t *testing.T) {
	payloads := [][]byte{nil, {0x00}, []byte("garbage-garbage-garbage"), {0xff, 0xfe, 0xfd}}
	for _, p := range payloads {
		conn := newFakeConn(65130)
		conn.push(p, "192.168.1.20:1234")

		l := NewListener(conn, testOptions(65130), zap.NewNop(), nil)
		peer, err := l.Pair(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "192.168.1.20", peer.Host)

		sent := conn.sent()
		require.Len(t, sent, 1)
		assert.Equal(t, []byte("passw"), sent[0].data)
	}
}

func TestPair_FailedRepliesKeepListening(t *testing.T) {
	conn := newFakeConn(65130)
	conn.writeErrs = []error{errors.New("network unreachable"), errors.New("host down")}
	conn.push([]byte("a"), "10.0.0.1:4000")
	conn.push([]byte("b"), "10.0.0.2:4000")
	conn.push([]byte("c"), "10.0.0.3:4000")
	conn.push([]byte("d"), "10.0.0.4:4000")

	appm := metrics.NewAppMetrics(nil)
	l := NewListener(conn, testOptions(65130), zap.NewNop(), appm)
	peer, err := l.Pair(context.Background())
	require.NoError(t, err)

	// 第三个广播首次回复成功，成为配对目标
	assert.Equal(t, "10.0.0.3", peer.Host)
	assert.Len(t, conn.sent(), 3)
	// 配对完成后不再消费后续报文
	assert.Len(t, conn.in, 1)

	assert.Equal(t, 3.0, testutil.ToFloat64(appm.DiscoveryDatagrams))
	assert.Equal(t, 2.0, testutil.ToFloat64(appm.DiscoveryReplies.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(appm.DiscoveryReplies.WithLabelValues("ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(appm.DiscoveryThrottled))
	// 配对状态指标由会话维护
	assert.Equal(t, 0.0, testutil.ToFloat64(appm.Paired))
}

func TestPair_ReplyToSourcePort(t *testing.T) {
	conn := newFakeConn(65130)
	conn.push([]byte("x"), "10.0.0.5:4000")

	opts := testOptions(65130)
	opts.ReplyToSourcePort = true
	l := NewListener(conn, opts, zap.NewNop(), nil)
	_, err := l.Pair(context.Background())
	require.NoError(t, err)

	sent := conn.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "10.0.0.5:4000", sent[0].to)
}

func TestPair_WaitsReplyDelay(t *testing.T) {
	conn := newFakeConn(65130)
	conn.push([]byte("x"), "10.0.0.5:4000")

	opts := testOptions(65130)
	opts.ReplyDelay = 50 * time.Millisecond
	l := NewListener(conn, opts, zap.NewNop(), nil)

	start := time.Now()
	_, err := l.Pair(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPair_ContextCancel(t *testing.T) {
	conn := newFakeConn(65130)
	l := NewListener(conn, testOptions(65130), zap.NewNop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := l.Pair(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, conn.sent())
}

func TestPair_CancelDuringReplyDelay(t *testing.T) {
	conn := newFakeConn(65130)
	conn.push([]byte("x"), "10.0.0.5:4000")

	opts := testOptions(65130)
	opts.ReplyDelay = time.Minute
	l := NewListener(conn, opts, zap.NewNop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := l.Pair(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, conn.sent())
}

func TestPair_ClosedSocket(t *testing.T) {
	conn := newFakeConn(65130)
	close(conn.in)

	l := NewListener(conn, testOptions(65130), zap.NewNop(), nil)
	_, err := l.Pair(context.Background())
	require.ErrorIs(t, err, ErrListenerClosed)
}

func TestPair_Loopback(t *testing.T) {
	opts := testOptions(0)
	opts.ReplyToSourcePort = true

	l, err := Listen(context.Background(), opts, zap.NewNop(), nil)
	require.NoError(t, err)
	defer l.Close()
	port := l.LocalAddr().(*net.UDPAddr).Port
	require.NotZero(t, port)

	device, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer device.Close()

	type result struct {
		peer Peer
		err  error
	}
	done := make(chan result, 1)
	go func() {
		p, err := l.Pair(context.Background())
		done <- result{p, err}
	}()

	_, err = device.WriteToUDP([]byte("esp32-hello"), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)

	require.NoError(t, device.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, _, err := device.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "passw", string(buf[:n]))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, "127.0.0.1", r.peer.Host)
		assert.Equal(t, port, r.peer.DiscoveryPort)
	case <-time.After(2 * time.Second):
		t.Fatal("Pair 未返回")
	}
}

func TestListen_BindConflictIsFatal(t *testing.T) {
	// 占用端口的 socket 未开启 SO_REUSEADDR，再次绑定应失败
	busy, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	require.NoError(t, err)
	defer busy.Close()

	_, err = Listen(context.Background(), testOptions(busy.LocalAddr().(*net.UDPAddr).Port), zap.NewNop(), nil)
	require.Error(t, err)
}

func TestReplyThrottle(t *testing.T) {
	th := newReplyThrottle(10, 1)
	ctx := context.Background()

	waited, err := th.Wait(ctx)
	require.NoError(t, err)
	assert.False(t, waited)

	start := time.Now()
	waited, err = th.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, waited)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	unlimited := newReplyThrottle(0, 0)
	for i := 0; i < 100; i++ {
		waited, err := unlimited.Wait(ctx)
		require.NoError(t, err)
		require.False(t, waited)
	}
}

func TestPair_FailedRepliesAreThrottled(t *testing.T) {
	conn := newFakeConn(65130)
	conn.writeErrs = []error{errors.New("network unreachable"), errors.New("host down")}
	conn.push([]byte("a"), "10.0.0.1:4000")
	conn.push([]byte("b"), "10.0.0.2:4000")
	conn.push([]byte("c"), "10.0.0.3:4000")

	opts := testOptions(65130)
	opts.ReplyRatePerSec = 10
	opts.ReplyBurst = 1
	appm := metrics.NewAppMetrics(nil)
	l := NewListener(conn, opts, zap.NewNop(), appm)

	start := time.Now()
	peer, err := l.Pair(context.Background())
	require.NoError(t, err)

	// 第一次失败消耗突发令牌，第二次失败须等待约 100ms
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, "10.0.0.3", peer.Host)
	assert.Equal(t, 1.0, testutil.ToFloat64(appm.DiscoveryThrottled))
}

func TestPair_SuccessfulReplyNotThrottled(t *testing.T) {
	conn := newFakeConn(65130)
	conn.writeErrs = []error{errors.New("network unreachable")}
	conn.push([]byte("a"), "10.0.0.1:4000")
	conn.push([]byte("b"), "10.0.0.2:4000")

	opts := testOptions(65130)
	opts.ReplyRatePerSec = 1
	opts.ReplyBurst = 1
	appm := metrics.NewAppMetrics(nil)
	l := NewListener(conn, opts, zap.NewNop(), appm)

	// 失败已耗尽令牌，若成功回复也被节流将等待约 1s
	start := time.Now()
	peer, err := l.Pair(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, "10.0.0.2", peer.Host)
	assert.Equal(t, 0.0, testutil.ToFloat64(appm.DiscoveryThrottled))
}

func TestStartDiscovery_Loopback(t *testing.T) {
	// 取一个空闲端口后释放，交给 StartDiscovery 绑定
	tmp, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := tmp.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, tmp.Close())

	device, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer device.Close()

	opts := testOptions(port)
	opts.ReplyToSourcePort = true

	type result struct {
		peer Peer
		err  error
	}
	done := make(chan result, 1)
	go func() {
		p, err := StartDiscovery(context.Background(), opts, zap.NewNop(), nil)
		done <- result{p, err}
	}()

	// 设备周期广播，直到收到令牌
	target := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	buf := make([]byte, 64)
	deadline := time.Now().Add(3 * time.Second)
	var token string
	for time.Now().Before(deadline) {
		_, err := device.WriteToUDP([]byte("esp32-hello"), target)
		require.NoError(t, err)
		require.NoError(t, device.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
		if n, _, err := device.ReadFromUDP(buf); err == nil {
			token = string(buf[:n])
			break
		}
	}
	assert.Equal(t, "passw", token)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, "127.0.0.1", r.peer.Host)
		assert.Equal(t, port, r.peer.DiscoveryPort)
		assert.Equal(t, 65131, r.peer.ControlPort)
	case <-time.After(2 * time.Second):
		t.Fatal("StartDiscovery 未返回")
	}

	// 返回后 socket 已释放，端口可再次绑定
	again, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	require.NoError(t, err)
	_ = again.Close()
}
