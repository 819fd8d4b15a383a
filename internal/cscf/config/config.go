// Package config loads the CSCF core's runtime configuration from
// flags with environment-variable overrides.
package config

import (
	"flag"
	"net"
	"os"
	"strconv"
)

// Config is the CSCF core's runtime configuration. NodeRole is the
// string form of acr.NodeRole accepted on the command line, kept as a
// string here so this package does not import acr.
type Config struct {
	// SIP settings
	Port          int
	BindAddr      string
	AdvertiseAddr string
	LogLevel      string

	// Domain stack
	HSSBaseURL   string // base URL of the HSS-facing REST interface
	RfSinkURL    string // base URL of the Rf/Ralf billing sink; empty disables billing
	ODITokenHost string // host:port advertised in ODI Route headers
	NodeRole     string // "pcscf", "icscf", or "scscf"

	// Registration-data cache
	RegCacheCleanupInterval int // seconds
	RegCacheEntryTTL        int // seconds
}

// Load parses flags and applies environment-variable overrides.
func Load() *Config {
	cfg := &Config{
		RegCacheCleanupInterval: 30,
		RegCacheEntryTTL:        60,
	}

	flag.IntVar(&cfg.Port, "port", 5060, "SIP listening port")
	flag.StringVar(&cfg.BindAddr, "bind", "0.0.0.0", "SIP bind address")
	flag.StringVar(&cfg.AdvertiseAddr, "advertise", "", "Address to advertise in SIP headers (auto-detected if not set)")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.HSSBaseURL, "hss", "http://localhost:8888", "Base URL of the HSS-facing REST interface")
	flag.StringVar(&cfg.RfSinkURL, "rf-sink", "", "Base URL of the Rf/Ralf billing sink (empty disables billing)")
	flag.StringVar(&cfg.ODITokenHost, "odi-host", "", "host:port advertised in ODI Route headers (defaults to advertise:port)")
	flag.StringVar(&cfg.NodeRole, "role", "scscf", "Node role: pcscf, icscf, or scscf")

	flag.Parse()

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if bind := os.Getenv("BIND"); bind != "" {
		cfg.BindAddr = bind
	}
	if advertise := os.Getenv("ADVERTISE"); advertise != "" {
		cfg.AdvertiseAddr = advertise
	}
	if cfg.AdvertiseAddr == "" || !isValidAddress(cfg.AdvertiseAddr) {
		cfg.AdvertiseAddr = getPrimaryInterfaceIP()
	}
	if loglevel := os.Getenv("LOGLEVEL"); loglevel != "" {
		cfg.LogLevel = loglevel
	}
	if hss := os.Getenv("HSS_BASE_URL"); hss != "" {
		cfg.HSSBaseURL = hss
	}
	if rfSink := os.Getenv("RF_SINK_URL"); rfSink != "" {
		cfg.RfSinkURL = rfSink
	}
	if role := os.Getenv("NODE_ROLE"); role != "" {
		cfg.NodeRole = role
	}
	if cfg.ODITokenHost == "" {
		cfg.ODITokenHost = net.JoinHostPort(cfg.AdvertiseAddr, strconv.Itoa(cfg.Port))
	}

	return cfg
}

func isValidAddress(addr string) bool {
	if ip := net.ParseIP(addr); ip != nil {
		return true
	}
	if ips, err := net.LookupIP(addr); err == nil && len(ips) > 0 {
		return true
	}
	return false
}

func getPrimaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}
