package utils

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
)

// FormatFileSize converts bytes to human-readable format
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

// SanitizeName reduces a client supplied file name to a display-safe base name
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '"' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "file"
	}
	return name
}

// NetworkInterface is a non-loopback IPv4 address of this host
type NetworkInterface struct {
	Name string `json:"interface"`
	IP   string `json:"ip"`
}

// LocalInterfaces lists the IPv4 addresses other devices on the LAN can reach
func LocalInterfaces() ([]NetworkInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var result []NetworkInterface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
				result = append(result, NetworkInterface{Name: iface.Name, IP: ip4.String()})
			}
		}
	}
	return result, nil
}

// LocalIP returns the first LAN address, or localhost when there is none
func LocalIP() string {
	ifaces, err := LocalInterfaces()
	if err != nil || len(ifaces) == 0 {
		return "localhost"
	}
	return ifaces[0].IP
}
