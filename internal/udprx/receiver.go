package udprx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sp3ctra/sp3ctra/internal/config"
	"github.com/sp3ctra/sp3ctra/internal/imagebuf"
	"github.com/sp3ctra/sp3ctra/internal/preprocess"
	"github.com/sp3ctra/sp3ctra/internal/rtlog"
)

// ErrBind wraps socket setup failures.
var ErrBind = errors.New("udprx: bind")

const readTimeout = 100 * time.Millisecond

// Receiver owns the UDP socket and publishes completed lines to the image
// buffers. Single goroutine; sole writer of the double buffer, the triple
// buffer and the pan-gain buffer.
type Receiver struct {
	cfg    *config.Config
	log    *rtlog.Logger
	conn   *net.UDPConn
	asm    *Assembler
	proc   *preprocess.Processor
	double *imagebuf.DoubleBuffer
	triple *imagebuf.TripleBuffer
	pan    *imagebuf.PanGainBuffer
	imu    *IMUState

	// Snapshots alternate between two slots so a consumer holding the
	// previous one never races the preprocessor.
	data     [2]*preprocess.Data
	dataSide int

	LinesComplete  atomic.Uint64
	LinesAbandoned atomic.Uint64
}

// NewReceiver binds the UDP socket per the configured address. SO_REUSEADDR
// is set; SO_REUSEPORT deliberately is not, so a restarted process does not
// lose packets to a lingering old socket. Multicast addresses are joined
// with loopback enabled.
func NewReceiver(cfg *config.Config, log *rtlog.Logger,
	double *imagebuf.DoubleBuffer, triple *imagebuf.TripleBuffer,
	pan *imagebuf.PanGainBuffer, imu *IMUState) (*Receiver, error) {

	addr := net.ParseIP(cfg.UDPAddress)
	if addr == nil {
		return nil, fmt.Errorf("%w: bad address %q", ErrBind, cfg.UDPAddress)
	}

	bindIP := addr
	if addr.IsMulticast() {
		bindIP = net.IPv4zero
	}
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4",
		net.JoinHostPort(bindIP.String(), fmt.Sprint(cfg.UDPPort)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBind, err)
	}
	conn := pc.(*net.UDPConn)

	if addr.IsMulticast() {
		if err := joinMulticast(conn, addr, cfg.MulticastInterface); err != nil {
			conn.Close()
			return nil, err
		}
		log.Infof("udprx: joined multicast group %s", addr)
	}

	proc := preprocess.New(cfg)
	r := &Receiver{
		cfg:    cfg,
		log:    log,
		conn:   conn,
		asm:    NewAssembler(cfg.Pixels),
		proc:   proc,
		double: double,
		triple: triple,
		pan:    pan,
		imu:    imu,
	}
	r.data[0] = proc.NewData()
	r.data[1] = proc.NewData()
	return r, nil
}

func joinMulticast(conn *net.UDPConn, group net.IP, ifaceName string) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBind, err)
	}
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], group.To4())
	if ifaceName != "" {
		iface, err := net.InterfaceByName(ifaceName)
		if err != nil {
			return fmt.Errorf("%w: multicast interface %q: %v", ErrBind, ifaceName, err)
		}
		addrs, err := iface.Addrs()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBind, err)
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && ipn.IP.To4() != nil {
				copy(mreq.Interface[:], ipn.IP.To4())
				break
			}
		}
	}
	var opErr error
	err = raw.Control(func(fd uintptr) {
		opErr = unix.SetsockoptIPMreq(int(fd), unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
		if opErr != nil {
			return
		}
		opErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, 1)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBind, err)
	}
	if opErr != nil {
		return fmt.Errorf("%w: multicast join: %v", ErrBind, opErr)
	}
	return nil
}

// Run reads packets until ctx is cancelled. The read deadline keeps the
// loop responsive to shutdown.
func (r *Receiver) Run(ctx context.Context) error {
	buf := make([]byte, 65536)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.log.Warnf("udprx: read: %v", err)
			continue
		}
		r.handlePacket(buf[:n])
	}
}

// Close force-closes the socket, aborting a blocked read.
func (r *Receiver) Close() error { return r.conn.Close() }

// LocalAddr returns the bound socket address.
func (r *Receiver) LocalAddr() net.Addr { return r.conn.LocalAddr() }

func (r *Receiver) handlePacket(buf []byte) {
	if len(buf) == 0 {
		return
	}
	switch buf[0] {
	case TypeImageData:
		p, err := DecodeImagePacket(buf)
		if err != nil {
			r.log.Warnf("udprx: image packet: %v", err)
			return
		}
		complete, abandoned := r.asm.Add(p, r.double.Active(), r.triple.WriteSlot())
		if abandoned {
			r.LinesAbandoned.Add(1)
			r.log.Warnf("udprx: abandoned incomplete line before %d", p.LineID)
		}
		if complete {
			r.publishLine()
		}
	case TypeIMUData:
		p, err := DecodeIMUPacket(buf)
		if err != nil {
			r.log.Warnf("udprx: imu packet: %v", err)
			return
		}
		r.imu.Update(p, time.Now())
	default:
		// Unknown packets are tolerated silently.
	}
}

func (r *Receiver) publishLine() {
	active := r.double.Active()
	data := r.data[r.dataSide]
	r.dataSide = 1 - r.dataSide
	r.proc.Process(data, active.R, active.G, active.B)

	r.double.Publish(data)
	r.pan.Publish(data.LeftGain, data.RightGain, data.PanPosition)
	r.triple.Commit()
	r.LinesComplete.Add(1)
}
