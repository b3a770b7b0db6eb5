package server

import (
	"context"
	"log"
	"net"

	"github.com/mdlayher/vsock"
	"golang.org/x/sync/errgroup"

	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/shmem"
	"github.com/vmremote/winapi/statistics"
)

// Service is the complete host daemon: the channel segment, the shared bulk
// region, and the stream listeners, all serving one dispatcher.
type Service struct {
	cfg        *Config
	dispatcher *Dispatcher
	stats      *statistics.Stats

	region  *shmem.Region
	chansrv *ChannelServer
	socksrv *Server
}

// NewService builds a service from cfg. The channel segment and the region
// file are created here so guests can attach before Run is called.
func NewService(cfg *Config) (*Service, error) {
	cfg.applyDefaults()

	title := ""
	if cfg.EnableStats {
		title = "host"
	}
	stats := statistics.New(title)
	dispatcher := NewDispatcher(stats, cfg.GuestPathStyle)

	region, err := shmem.CreateRegion(cfg.RegionPath, cfg.RegionRequestSize, cfg.RegionResponseSize)
	if err != nil {
		stats.Close()
		return nil, err
	}

	chansrv, err := NewChannelServer(cfg, dispatcher)
	if err != nil {
		region.Close()
		stats.Close()
		return nil, err
	}

	socksrv := NewServer(dispatcher, region)
	socksrv.IdleTimeout = cfg.IdleTimeout.Std()
	socksrv.ReadTimeout = cfg.ReadTimeout.Std()

	return &Service{
		cfg:        cfg,
		dispatcher: dispatcher,
		stats:      stats,
		region:     region,
		chansrv:    chansrv,
		socksrv:    socksrv,
	}, nil
}

// Dispatcher exposes the registry so embedders can add handlers before Run.
func (svc *Service) Dispatcher() *Dispatcher { return svc.dispatcher }

func (svc *Service) Stats() *statistics.Stats { return svc.stats }

// Run serves all transports until ctx is cancelled. At least one stream
// listener must come up; vsock being unavailable is normal outside a
// hypervisor and only logged.
func (svc *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	listeners := svc.listen()
	if len(listeners) == 0 {
		return errors.Wrap(errors.ErrTransport, errors.New("no stream listener available"))
	}

	g.Go(func() error {
		return svc.chansrv.Run(ctx)
	})
	for _, l := range listeners {
		l := l
		g.Go(func() error {
			return svc.socksrv.Serve(ctx, l)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		svc.socksrv.Close()
		for _, l := range listeners {
			_ = l.Close()
		}
		return nil
	})

	err := g.Wait()
	svc.shutdown()
	return err
}

func (svc *Service) listen() []net.Listener {
	var listeners []net.Listener

	if vl, err := vsock.Listen(svc.cfg.VsockPort, nil); err != nil {
		log.Printf("service: vsock listen port %#x: %v", svc.cfg.VsockPort, err)
	} else {
		log.Printf("service: listening on vsock port %#x", svc.cfg.VsockPort)
		listeners = append(listeners, vl)
	}

	if tl, err := net.Listen("tcp", svc.cfg.TCPAddr); err != nil {
		log.Printf("service: tcp listen %s: %v", svc.cfg.TCPAddr, err)
	} else {
		log.Printf("service: listening on tcp %s", svc.cfg.TCPAddr)
		listeners = append(listeners, tl)
	}

	return listeners
}

// shutdown releases everything Run owned: segment, region, stats. Orderly:
// listeners are already closed when this runs.
func (svc *Service) shutdown() {
	if err := svc.chansrv.Close(); err != nil {
		log.Printf("service: close channel: %v", err)
	}
	if err := svc.region.Close(); err != nil {
		log.Printf("service: close region: %v", err)
	}
	svc.stats.Close()
}
