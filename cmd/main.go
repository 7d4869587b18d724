package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dmxnet/internal/artnet"
	"dmxnet/internal/bridge"
	"dmxnet/internal/config"
	"dmxnet/internal/logger"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file")
}

func main() {
	flag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger.Level)
	if err != nil {
		fmt.Printf("failed to create a logger: %v", err)
		os.Exit(1)
	}

	engine, err := artnet.NewEngine(log, artnet.Config{
		Port:            cfg.ArtNet.Port,
		PollInterval:    time.Duration(cfg.ArtNet.PollIntervalMs) * time.Millisecond,
		PollDestination: cfg.ArtNet.PollDestination,
		Name:            cfg.ArtNet.Name,
		LongName:        cfg.ArtNet.LongName,
		NodeWindow:      time.Duration(cfg.ArtNet.NodeWindowSec) * time.Second,
		ErrorSink: func(err error) {
			log.With(logger.Fields{"module": "art-net"}).Errorf("transport: %v", err)
		},
	})
	if err != nil {
		log.With(logger.Fields{"module": "art-net"}).Errorf("error while creating the engine: %v", err)
		os.Exit(1)
	}
	log.With(logger.Fields{"module": "art-net"}).Debug("engine created ok")
	for _, li := range engine.Interfaces() {
		log.With(logger.Fields{"module": "art-net"}).
			Infof("using interface %s (broadcast %s)", li.IP, li.Broadcast)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	if err = engine.Start(ctx); err != nil {
		log.Error("failed to start art-net engine:", err.Error())
		os.Exit(1)
	}

	senders := make(map[int]*artnet.Sender)
	for _, sc := range cfg.Senders {
		s, err := engine.NewSender(artnet.SenderOptions{
			Net:         sc.Net,
			Subnet:      sc.Subnet,
			Universe:    sc.Universe,
			Destination: sc.Destination,
			Refresh:     time.Duration(sc.RefreshMs) * time.Millisecond,
		})
		if err != nil {
			log.With(logger.Fields{"module": "art-net"}).Errorf("sender %d:%d:%d: %v", sc.Net, sc.Subnet, sc.Universe, err)
			continue
		}
		senders[s.Address().Integer()] = s
	}

	var receivers []*artnet.Receiver
	for _, rc := range cfg.Receivers {
		r, err := engine.NewReceiver(artnet.ReceiverOptions{
			Net:      rc.Net,
			Subnet:   rc.Subnet,
			Universe: rc.Universe,
			From:     rc.From,
		})
		if err != nil {
			log.With(logger.Fields{"module": "art-net"}).Errorf("receiver %d:%d:%d: %v", rc.Net, rc.Subnet, rc.Universe, err)
			continue
		}
		receivers = append(receivers, r)
	}

	var br *bridge.Bridge
	if cfg.MQTT.Enabled {
		br = bridge.NewBridge(log, bridge.Conf{
			ClientID: cfg.MQTT.ClientID,
			Schema:   "tcp",
			Host:     cfg.MQTT.Host,
			Port:     cfg.MQTT.Port,
			User:     cfg.MQTT.User,
			Password: cfg.MQTT.Password,
			Qos:      cfg.MQTT.Qos,
		}, engine, senders)
		if err = br.Start(ctx); err != nil {
			log.Error("failed to start MQTT bridge:", err.Error())
			cancel()
		} else {
			for _, r := range receivers {
				br.WatchReceiver(r)
			}
		}
	}

	<-ctx.Done()

	if br != nil {
		if err := br.Stop(); err != nil {
			log.Error("failed to stop MQTT bridge:", err.Error())
		}
	}

	engine.Stop()

	log.Info("shutdown complete")
}
