package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/go-foreman/conductor/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// generator starts account registrations through the http api of the saga example
func main() {
	apiURL := flag.String("api", "http://127.0.0.1:8080", "address of the saga example")
	count := flag.Int("count", 1000, "number of registrations")
	flag.Parse()

	zapLogger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}

	logger := log.NewZapLogger(zapLogger)
	client := &http.Client{Timeout: time.Second * 5}

	for i := 0; i < *count; i++ {
		uid := uuid.New().String()

		sagaID, err := register(client, *apiURL, uid, fmt.Sprintf("account-%s@github.com", uid))
		if err != nil {
			logger.Logf(log.ErrorLevel, "registering %s. %s", uid, err)
			continue
		}

		logger.Logf(log.InfoLevel, "started saga %s for account %s", sagaID, uid)
	}
}

func register(client *http.Client, apiURL, uid, email string) (string, error) {
	body, err := json.Marshal(map[string]string{"uid": uid, "email": email})
	if err != nil {
		return "", errors.WithStack(err)
	}

	resp, err := client.Post(apiURL+"/accounts", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer resp.Body.Close()

	var res map[string]string

	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", errors.Wrap(err, "decoding response")
	}

	if resp.StatusCode != http.StatusAccepted {
		return "", errors.Errorf("unexpected status %d: %s", resp.StatusCode, res["error"])
	}

	return res["sagaId"], nil
}
