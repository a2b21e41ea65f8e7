package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/0xReLogic/Hypnos/internal/client"
)

const usage = `usage: hypnosctl [flags] <misbehave|behave|sleep|awake|status>

flags:
`

func main() {
	addr := pflag.StringP("addr", "a", "http://localhost:8080", "Hypnos base URL")
	timeout := pflag.DurationP("timeout", "t", 5*time.Second, "request timeout")
	caFile := pflag.String("ca", "", "CA certificate to trust for https")
	certFile := pflag.String("cert", "", "client certificate for mTLS")
	keyFile := pflag.String("key", "", "client key for mTLS")
	pflag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(2)
	}

	hc := &http.Client{Timeout: *timeout}
	if *caFile != "" || *certFile != "" {
		tlsCfg, err := clientTLS(*caFile, *certFile, *keyFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hypnosctl: %v\n", err)
			os.Exit(1)
		}
		hc.Transport = &http.Transport{TLSClientConfig: tlsCfg}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	out, err := run(ctx, client.New(*addr, hc), pflag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "hypnosctl: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out)
}

func run(ctx context.Context, c *client.Client, command string) (string, error) {
	switch command {
	case "misbehave":
		return c.Misbehave(ctx)
	case "behave":
		return c.Behave(ctx)
	case "sleep":
		return c.Sleep(ctx)
	case "awake":
		return c.Awake(ctx)
	case "status":
		flags, err := c.Status(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("misbehaving=%t sleeping=%t", flags.Misbehaving, flags.Sleeping), nil
	default:
		return "", fmt.Errorf("unknown command %q", command)
	}
}

func clientTLS(caFile, certFile, keyFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", caFile)
		}
		cfg.RootCAs = pool
	}
	if certFile != "" {
		pair, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{pair}
	}
	return cfg, nil
}
