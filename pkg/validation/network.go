package validation

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const invalidHostChars = " \t\n\r\"'`;"

// ValidateBrokerAddress validates a broker address in the format host:port.
// It checks for valid hostnames/IP addresses and port ranges.
func ValidateBrokerAddress(address string) error {
	if address == "" {
		return fmt.Errorf("broker address cannot be empty")
	}

	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		if strings.Contains(err.Error(), "missing port") {
			return fmt.Errorf("broker address must include port: %s", address)
		}
		return fmt.Errorf("invalid broker address format: %w", err)
	}

	if host == "" {
		return fmt.Errorf("broker host cannot be empty")
	}
	if err := validateHost(host); err != nil {
		return err
	}

	return validatePort(portStr)
}

// ValidateMQTTBroker validates MQTT broker configuration (host and port separately).
func ValidateMQTTBroker(host string, port int) error {
	if host == "" {
		return fmt.Errorf("MQTT broker host cannot be empty")
	}
	if err := validateHost(host); err != nil {
		return fmt.Errorf("invalid MQTT broker host: %w", err)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("MQTT broker port must be between 1 and 65535, got %d", port)
	}

	return nil
}

// ValidateURL checks an http(s) endpoint such as the InfluxDB server URL.
func ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("url host cannot be empty")
	}
	if err := validateHost(u.Hostname()); err != nil {
		return err
	}
	if p := u.Port(); p != "" {
		return validatePort(p)
	}
	return nil
}

// ValidateListenAddress checks a local listen address such as ":9100" or "127.0.0.1:9100".
func ValidateListenAddress(address string) error {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}
	if host != "" {
		if err := validateHost(host); err != nil {
			return err
		}
	}
	// port 0 asks the kernel for a free port
	if portStr == "0" {
		return nil
	}
	return validatePort(portStr)
}

// ValidateHostname validates a hostname according to RFC 1123.
func ValidateHostname(hostname string) error {
	if len(hostname) > 253 {
		return fmt.Errorf("hostname too long (max 253 characters)")
	}

	for _, label := range strings.Split(hostname, ".") {
		if len(label) == 0 {
			return fmt.Errorf("empty label in hostname")
		}
		if len(label) > 63 {
			return fmt.Errorf("hostname label too long (max 63 characters)")
		}

		// must start with alphanumeric, may contain hyphens, cannot end with one
		for i, ch := range label {
			if i == 0 && !isAlphaNumeric(ch) {
				return fmt.Errorf("hostname label must start with alphanumeric character")
			}
			if i == len(label)-1 && ch == '-' {
				return fmt.Errorf("hostname label cannot end with hyphen")
			}
			if !isAlphaNumeric(ch) && ch != '-' {
				return fmt.Errorf("invalid character '%c' in hostname", ch)
			}
		}
	}

	return nil
}

func validateHost(host string) error {
	if strings.ContainsAny(host, invalidHostChars) {
		return fmt.Errorf("host contains invalid characters")
	}
	if ip := net.ParseIP(host); ip != nil {
		return nil
	}
	if err := ValidateHostname(host); err != nil {
		return fmt.Errorf("invalid hostname: %w", err)
	}
	return nil
}

// validatePort validates a port number string.
func validatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %w", err)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}

	return nil
}

func isAlphaNumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
