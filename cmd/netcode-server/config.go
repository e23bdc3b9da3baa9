package main

import "flag"

// Config holds the demo server's startup settings. XML configuration
// parsing is out of scope, so this is flags over hardcoded defaults, in
// the same spirit as the teacher's core/main.go loadConfig().
type Config struct {
	Host        string
	Port        int
	JoinAddress string
	TickHz      float64
	PacketLoss  float64
}

func loadConfig() Config {
	cfg := Config{
		Host:       "0.0.0.0",
		Port:       1919,
		TickHz:     20.0,
		PacketLoss: 0.0,
	}
	flag.StringVar(&cfg.Host, "host", cfg.Host, "address to bind when hosting")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "UDP port to bind when hosting")
	flag.StringVar(&cfg.JoinAddress, "join", "", "host:port to join as a client instead of hosting")
	flag.Float64Var(&cfg.TickHz, "tick-hz", cfg.TickHz, "NetObject replication tick rate")
	flag.Float64Var(&cfg.PacketLoss, "packet-loss", cfg.PacketLoss, "simulated inbound packet loss, 0..1")
	flag.Parse()
	return cfg
}
