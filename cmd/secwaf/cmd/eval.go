package cmd

import (
	"secwaf/geodb"
	"secwaf/logging"
	"secwaf/secrule/engine"
	"secwaf/store"
	"secwaf/waf"

	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// sampleRequest is the YAML shape the eval subcommand reads.
type sampleRequest struct {
	Method     string            `yaml:"method"`
	URI        string            `yaml:"uri"`
	Protocol   string            `yaml:"protocol"`
	ClientIP   string            `yaml:"client_ip"`
	ClientPort int               `yaml:"client_port"`
	ServerIP   string            `yaml:"server_ip"`
	ServerPort int               `yaml:"server_port"`
	Headers    map[string]string `yaml:"headers"`
	Body       string            `yaml:"body"`
}

var evalCmd = &cobra.Command{
	Use:   "eval <rule file> <request file>",
	Short: "Run a sample request (YAML) through a rule set and print the intervention",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		request, err := readSampleRequest(args[1])
		if err != nil {
			return err
		}

		opts, err := buildOptions()
		if err != nil {
			return err
		}

		e, err := engine.LoadFile(opts, args[0])
		if err != nil {
			return err
		}

		tx := engine.NewTransaction(e, request.ClientIP, request.ClientPort, request.ServerIP, request.ServerPort)
		tx.ProcessConnection()
		tx.ProcessURI(request.URI, request.Method, request.Protocol)
		for name, value := range request.Headers {
			tx.AddRequestHeader(name, value)
		}

		for _, step := range []func() bool{
			tx.ProcessRequestHeaders,
			func() bool {
				if request.Body != "" {
					tx.AppendRequestBody([]byte(request.Body))
				}
				return tx.ProcessRequestBody()
			},
			tx.ProcessResponseHeaders,
			tx.ProcessResponseBody,
			tx.ProcessLogging,
		} {
			if step() {
				break
			}
		}

		return printIntervention(tx.Intervention())
	},
}

func readSampleRequest(path string) (*sampleRequest, error) {
	bb, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read request file %v: %v", path, err)
	}

	request := &sampleRequest{
		Method:     "GET",
		URI:        "/",
		Protocol:   "HTTP/1.1",
		ClientIP:   "127.0.0.1",
		ClientPort: 12345,
		ServerIP:   "127.0.0.1",
		ServerPort: 80,
	}
	if err := yaml.Unmarshal(bb, request); err != nil {
		return nil, fmt.Errorf("invalid request file %v: %v", path, err)
	}

	return request, nil
}

func buildOptions() (engine.Options, error) {
	logger, err := logging.NewDebugLogger(debugConfig())
	if err != nil {
		return engine.Options{}, err
	}

	opts := engine.Options{
		Logger:        logger,
		ResultsLogger: logging.NewZerologResultsLogger(logger),
	}

	if addr := viper.GetString("redis-addr"); addr != "" {
		rs, err := store.NewRedisStore(logger, addr, "", 0, "secwaf")
		if err != nil {
			return engine.Options{}, err
		}
		opts.Store = rs
	} else {
		opts.Store = store.NewMemStore()
	}

	if path := viper.GetString("geo-db"); path != "" {
		db, err := geodb.LoadFile(logger, path)
		if err != nil {
			return engine.Options{}, err
		}
		opts.GeoDB = db
	}

	return opts, nil
}

func debugConfig() waf.EngineConfig {
	config := waf.DefaultEngineConfig()
	config.DebugLogLevel = viper.GetInt("debug-log-level")
	return config
}

func printIntervention(iv *waf.Intervention) error {
	if iv == nil {
		fmt.Println(`{"disruptive":false}`)
		return nil
	}

	bb, err := json.MarshalIndent(iv, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(bb))
	return nil
}

func init() {
	rootCmd.AddCommand(evalCmd)
}
