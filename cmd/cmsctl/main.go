package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/MicKaranja/cms/internal/registry"
	"github.com/MicKaranja/cms/pkg/cmsapi"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "verify":
		runVerify(os.Args[2:])
	case "rpc":
		runRPC(os.Args[2:])
	case "notifications":
		runNotifications(os.Args[2:])
	case "resources":
		runResources(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: cmsctl <verify|rpc|notifications|resources> [...]")
}

// verify loads the service registry file and prints what it found, so
// a broken deployment config fails here instead of at server start.
func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	servicesFile := fs.String("services", "services.yaml", "service registry file")
	_ = fs.Parse(args)

	reg, err := registry.LoadFromFile(*servicesFile)
	if err != nil {
		fatalf("registry invalid: %v", err)
	}
	for _, name := range reg.ServiceNames() {
		shards, err := reg.ShardCount(name)
		if err != nil {
			fatalf("shard count for %s: %v", name, err)
		}
		for shard := 0; shard < shards; shard++ {
			ep, err := reg.Address(registry.ServiceCoordinate{Name: name, Shard: shard})
			if err != nil {
				fatalf("address for %s/%d: %v", name, shard, err)
			}
			fmt.Printf("%s/%d\t%s:%d\n", name, shard, ep.Host, ep.Port)
		}
	}
	fmt.Fprintln(os.Stderr, "registry ok")
}

func runRPC(args []string) {
	fs := flag.NewFlagSet("rpc", flag.ExitOnError)
	url := fs.String("url", "http://localhost:8889", "admin server URL")
	token := fs.String("token", "", "optional API token")
	service := fs.String("service", "", "target service name")
	shard := fs.Int("shard", 0, "target shard")
	method := fs.String("method", "", "method to invoke")
	rawArgs := fs.String("args", "", "JSON arguments")
	_ = fs.Parse(args)

	if strings.TrimSpace(*service) == "" || strings.TrimSpace(*method) == "" {
		fatalf("--service and --method are required")
	}
	req := cmsapi.ProxyRequest{Service: *service, Shard: *shard, Method: *method}
	if strings.TrimSpace(*rawArgs) != "" {
		if !json.Valid([]byte(*rawArgs)) {
			fatalf("--args must be valid JSON")
		}
		req.Arguments = json.RawMessage(*rawArgs)
	}
	body, err := json.Marshal(req)
	if err != nil {
		fatalf("marshal request: %v", err)
	}
	printResponse(doRequest(http.MethodPost, strings.TrimRight(*url, "/")+"/v1/rpc", *token, bytes.NewReader(body)))
}

func runNotifications(args []string) {
	fs := flag.NewFlagSet("notifications", flag.ExitOnError)
	url := fs.String("url", "http://localhost:8889", "admin server URL")
	token := fs.String("token", "", "optional API token")
	last := fs.Int64("last", 0, "last notification unix timestamp")
	_ = fs.Parse(args)

	target := fmt.Sprintf("%s/v1/notifications?last_notification=%d", strings.TrimRight(*url, "/"), *last)
	printResponse(doRequest(http.MethodGet, target, *token, nil))
}

func runResources(args []string) {
	fs := flag.NewFlagSet("resources", flag.ExitOnError)
	url := fs.String("url", "http://localhost:8889", "admin server URL")
	token := fs.String("token", "", "optional API token")
	_ = fs.Parse(args)

	printResponse(doRequest(http.MethodGet, strings.TrimRight(*url, "/")+"/v1/resources", *token, nil))
}

func doRequest(method, url, token string, body io.Reader) *http.Response {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("request failed: %v", err)
	}
	return resp
}

func printResponse(resp *http.Response) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fatalf("read response: %v", err)
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		data = pretty.Bytes()
	}
	fmt.Println(strings.TrimSpace(string(data)))
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
