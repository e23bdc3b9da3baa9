package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stephenmerendino/netcode/netobject"
	"github.com/stephenmerendino/netcode/pkg/netlog"
	"github.com/stephenmerendino/netcode/transport"
)

const version = "1.0.0"

const vehicleTypeID uint8 = 1

// updatePeriod is the network pump rate (20 Hz), independent of the
// NetObject replication tick configured via -tick-hz.
const updatePeriod = 50 * time.Millisecond

func main() {
	netlog.Banner("netcode demo server", version)
	cfg := loadConfig()

	session := transport.NewSession()
	objects := netobject.NewSystem(session, cfg.TickHz)
	objects.RegisterType(vehicleTypeID, VehicleTypeDefinition{})

	session.OnConnectionJoined.Subscribe(func(s *transport.Session, c *transport.Connection) {
		netlog.Success("connection %d joined from %s", c.Index, c.Endpoint)
	})
	session.OnConnectionLeft.Subscribe(func(s *transport.Session, c *transport.Connection) {
		netlog.Warn("connection %d left", c.Index)
	})
	session.OnHostLeft.Subscribe(func(s *transport.Session, c *transport.Connection) {
		netlog.Error("host connection lost")
	})

	if cfg.JoinAddress == "" {
		session.OnConnectionJoined.Subscribe(func(s *transport.Session, c *transport.Connection) {
			spawnDemoVehicle(objects)
		})
		if err := runHost(session, objects, cfg); err != nil {
			netlog.Fatal("failed to start host: %v", err)
		}
	} else {
		if err := runClient(session, cfg); err != nil {
			netlog.Fatal("failed to join %s: %v", cfg.JoinAddress, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		ticker := time.NewTicker(updatePeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case now := <-ticker.C:
				if err := session.Update(now); err != nil {
					return err
				}
				objects.Tick(now)
			}
		}
	})

	group.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			netlog.Warn("received signal: %v", sig)
			cancel()
			return nil
		}
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		netlog.Warn("update loop exited: %v", err)
	}

	netlog.Info("shutting down")
	if err := session.Stop(); err != nil {
		netlog.Error("error during shutdown: %v", err)
	}
	_ = netlog.Sync()
	netlog.Success("server stopped")
}

func runHost(session *transport.Session, objects *netobject.System, cfg Config) error {
	socket, err := transport.Bind(cfg.Host, cfg.Port, 5)
	if err != nil {
		return err
	}
	channel := transport.NewPacketChannel(socket)
	channel.SetLoss(cfg.PacketLoss)
	session.Host(channel)

	spawnDemoVehicle(objects)
	netlog.Success("hosting on %s:%d", cfg.Host, cfg.Port)
	return nil
}

func runClient(session *transport.Session, cfg Config) error {
	addr, err := net.ResolveUDPAddr("udp4", cfg.JoinAddress)
	if err != nil {
		return err
	}
	socket, err := transport.Bind("0.0.0.0", 0, 1)
	if err != nil {
		return err
	}
	channel := transport.NewPacketChannel(socket)
	channel.SetLoss(cfg.PacketLoss)
	session.Join(channel, transport.EndpointFromUDPAddr(addr))
	return nil
}

func spawnDemoVehicle(objects *netobject.System) {
	c1, c2 := randomVehicleColor()
	v := &Vehicle{ModelID: 411, X: 0, Y: 0, Z: 3, Color1: c1, Color2: c2}
	obj := objects.Replicate(vehicleTypeID, v)
	netlog.InfoCyan("spawned demo vehicle %d", obj.ID)
}
