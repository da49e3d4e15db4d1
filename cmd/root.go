package cmd

import (
	"fmt"
	u "net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cocofetch/cocofetch/internal/utils"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var (
	workers       int
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	debug         bool
	fileLog       bool
	rateLimit     string

	globalHTTPConfig utils.HTTPClientConfig
)

var CocofetchVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "cocofetch",
	Short:   "Cocofetch is a segmented, resumable download tool for large datasets",
	Version: CocofetchVersion,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		if fileLog {
			logFile, err := os.OpenFile(utils.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
				os.Exit(1)
			}
			utils.SetLogOutput(logFile)
		}
		if userAgent == "randomize" {
			userAgent = utils.GetRandomUserAgent()
		}
		// Check if proxy URL contains auth
		parsedProxy, err := u.Parse(proxyURL)
		if err == nil && parsedProxy.User != nil && proxyUsername == "" {
			proxyUsername = parsedProxy.User.Username()
			if password, set := parsedProxy.User.Password(); set {
				proxyPassword = password
			}
			// Remove auth from URL to send in clientConfig
			parsedProxy.User = nil
			proxyURL = parsedProxy.String()
		}
		globalHTTPConfig = utils.HTTPClientConfig{
			Timeout:        timeout,
			KATimeout:      kaTimeout,
			ProxyURL:       proxyURL,
			ProxyUsername:  proxyUsername,
			ProxyPassword:  proxyPassword,
			UserAgent:      userAgent,
			Headers:        utils.ParseHeaderArgs(headers),
			HighThreadMode: workers > 5,
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&workers, "connections", "c", 0, "Number of segments per download (default matches digest scheme)")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Connection timeout (eg. 5s, 10m)")
	rootCmd.PersistentFlags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent ('randomize' picks a browser one)")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.PersistentFlags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	rootCmd.PersistentFlags().StringVar(&rateLimit, "rate-limit", "", "Shared download rate limit (eg. 10MB, 500KB per second)")
	rootCmd.PersistentFlags().BoolVar(&fileLog, "file-log", false, "Write logs to "+utils.LogFile+" instead of stderr")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newDatasetCmd())
	rootCmd.AddCommand(newDigestCmd())
	rootCmd.AddCommand(newCleanCmd())
}

// parseRateLimit turns a human rate like "10MB" or "500KB" (per second) into
// a shared limiter, or nil when no limit was requested.
func parseRateLimit(value string) (*rate.Limiter, error) {
	if value == "" {
		return nil, nil
	}
	value = strings.ToUpper(strings.TrimSpace(value))
	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		factor int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}} {
		if strings.HasSuffix(value, unit.suffix) {
			multiplier = unit.factor
			value = strings.TrimSuffix(value, unit.suffix)
			break
		}
	}
	num, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || num <= 0 {
		return nil, fmt.Errorf("invalid rate limit %q", value)
	}
	bytesPerSec := num * multiplier
	return rate.NewLimiter(rate.Limit(bytesPerSec), int(min(bytesPerSec, 1<<20))), nil
}
