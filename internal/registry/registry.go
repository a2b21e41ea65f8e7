package registry

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// ResolveServiceAddresses reads a YAML registry file and returns the
// upstream addresses registered for serviceName. Expected format:
//
//	services:
//	  orders: host:port
//	  payments:
//	    - host-a:port
//	    - host-b:port
//
// Service names are matched case-insensitively.
func ResolveServiceAddresses(registryPath, serviceName string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(registryPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	raw, ok := v.GetStringMap("services")[strings.ToLower(serviceName)]
	if !ok {
		return nil, fmt.Errorf("service %q not found in registry", serviceName)
	}

	var candidates []string
	switch val := raw.(type) {
	case string:
		candidates = strings.Split(val, ",")
	default:
		list, err := cast.ToStringSliceE(val)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", serviceName, err)
		}
		candidates = list
	}

	addrs := make([]string, 0, len(candidates))
	for _, a := range candidates {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("service %q has no addresses in registry", serviceName)
	}
	return addrs, nil
}
