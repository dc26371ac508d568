// Package gpsconf parses the vendor gps.conf file: flat INI-style KEY=VALUE
// lines, '#' comments, unknown keys ignored.
package gpsconf

import (
	"bufio"
	"strconv"
	"strings"
)

// Config holds the recognized gps.conf keys. Unrecognized keys are parsed
// into Extra but never consulted by this package.
type Config struct {
	SUPLHost               string
	SUPLPort               int
	XTRAServer1            string
	XTRAServer2            string
	XTRAServer3            string
	XTRAServerQuery        string
	NTPServer              string
	DebugLevel             int
	IntermediatePos        bool
	SUPLVer                string
	Capabilities           string
	LPPProfile             string
	NMEAProvider           string
	AGlonassPosProtoSelect string

	Extra map[string]string
}

// XTRAHosts returns the configured XTRA_SERVER_1..3 values, in order,
// skipping any left empty.
func (c Config) XTRAHosts() []string {
	var hosts []string
	for _, h := range []string{c.XTRAServer1, c.XTRAServer2, c.XTRAServer3} {
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// SUPL returns the (host, port) pair configured by SUPL_HOST/SUPL_PORT.
func (c Config) SUPL() (string, int) {
	return c.SUPLHost, c.SUPLPort
}

// Parse reads a gps.conf document from s. Lines that are blank, start with
// '#', or don't contain '=' are ignored; unrecognized keys land in Extra
// rather than erroring.
func Parse(s string) Config {
	cfg := Config{Extra: make(map[string]string)}
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "SUPL_HOST":
			cfg.SUPLHost = value
		case "SUPL_PORT":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.SUPLPort = n
			}
		case "XTRA_SERVER_1":
			cfg.XTRAServer1 = value
		case "XTRA_SERVER_2":
			cfg.XTRAServer2 = value
		case "XTRA_SERVER_3":
			cfg.XTRAServer3 = value
		case "XTRA_SERVER_QUERY":
			cfg.XTRAServerQuery = value
		case "NTP_SERVER":
			cfg.NTPServer = value
		case "DEBUG_LEVEL":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.DebugLevel = n
			}
		case "INTERMEDIATE_POS":
			cfg.IntermediatePos = value == "1" || strings.EqualFold(value, "true")
		case "SUPL_VER":
			cfg.SUPLVer = value
		case "CAPABILITIES":
			cfg.Capabilities = value
		case "LPP_PROFILE":
			cfg.LPPProfile = value
		case "NMEA_PROVIDER":
			cfg.NMEAProvider = value
		case "A_GLONASS_POS_PROTOCOL_SELECT":
			cfg.AGlonassPosProtoSelect = value
		default:
			cfg.Extra[key] = value
		}
	}
	return cfg
}
