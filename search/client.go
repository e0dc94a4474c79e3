package search

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"
	"hermannm.dev/devlog/log"
	"hermannm.dev/searchanalysis/config"
	"hermannm.dev/searchanalysis/query"
	"hermannm.dev/searchanalysis/query/ppl"
	"hermannm.dev/wrap"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// Client sends compiled queries to an Elasticsearch or OpenSearch cluster.
//
// It uses the transport directly instead of the Elasticsearch client, since the latter refuses to
// talk to clusters that don't identify as Elasticsearch.
type Client struct {
	transport *elastictransport.Client
	flavor    query.Flavor
}

func NewClient(config config.Search) (Client, error) {
	address, err := url.Parse(config.Address)
	if err != nil {
		return Client{}, wrap.Errorf(err, "invalid search backend address '%s'", config.Address)
	}

	transportConfig := elastictransport.Config{
		URLs:     []*url.URL{address},
		Username: config.Username,
		Password: config.Password,
	}
	if config.Debug {
		transportConfig.Logger = &elastictransport.TextLogger{
			Output:             os.Stdout,
			EnableRequestBody:  true,
			EnableResponseBody: true,
		}
	}

	transport, err := elastictransport.New(transportConfig)
	if err != nil {
		return Client{}, wrap.Error(err, "failed to create search backend transport")
	}

	return Client{transport: transport, flavor: config.Flavor}, nil
}

// MultiSearch sends a multi-search request, given as NDJSON with placeholders resolved, and
// returns the raw response body.
//
// Error responses from the backend are returned as the body, not as an error, so that they can be
// decoded into a query.BackendError.
func (client Client) MultiSearch(ctx context.Context, ndjson []byte) ([]byte, error) {
	log.Debug("sending multi-search request", slog.Int("bytes", len(ndjson)))

	request := esapi.MsearchRequest{Body: bytes.NewReader(ndjson)}
	response, err := request.Do(ctx, client.transport)
	if err != nil {
		return nil, wrap.Error(err, "multi-search request failed")
	}
	defer response.Body.Close()

	return readResponse(response.StatusCode, response.Body)
}

// PPL sends a PPL query and returns the raw response body, which is in the JDBC format.
func (client Client) PPL(ctx context.Context, request ppl.Request) ([]byte, error) {
	body, err := jsonCodec.Marshal(request)
	if err != nil {
		return nil, wrap.Error(err, "failed to encode PPL request")
	}

	path := client.pplPath()
	log.Debug("sending PPL request", slog.String("path", path), slog.String("query", request.Query))

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return nil, wrap.Error(err, "failed to create PPL request")
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	response, err := client.transport.Perform(httpRequest)
	if err != nil {
		return nil, wrap.Error(err, "PPL request failed")
	}
	defer response.Body.Close()

	return readResponse(response.StatusCode, response.Body)
}

// The SQL plugin was renamed when OpenSearch was forked off.
func (client Client) pplPath() string {
	if client.flavor == query.FlavorElasticsearch {
		return "/_opendistro/_ppl"
	}
	return "/_plugins/_ppl"
}

func readResponse(statusCode int, body io.Reader) ([]byte, error) {
	content, err := io.ReadAll(body)
	if err != nil {
		return nil, wrap.Error(err, "failed to read response body")
	}

	if statusCode >= 400 && !jsonCodec.Valid(content) {
		return nil, fmt.Errorf(
			"search backend responded with status %d: %s",
			statusCode,
			bytes.TrimSpace(content),
		)
	}

	return content, nil
}
