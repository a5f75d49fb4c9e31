package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	resilient "github.com/egorkaBurkenya/resilient-api"
)

func newGetCmd(a *app) *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Send a GET request and print the JSON response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := parseQuery(params)
			if err != nil {
				return err
			}
			return a.send(cmd, &resilient.Request{Method: http.MethodGet, Path: args[0], Query: query})
		},
	}
	cmd.Flags().StringArrayVarP(&params, "query", "q", nil, "query parameter as key=value, repeatable")
	return cmd
}

func newPostCmd(a *app) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "post <path>",
		Short: "Send a POST request with a JSON body and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &resilient.Request{Method: http.MethodPost, Path: args[0]}
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data is not valid JSON")
				}
				req.Body = json.RawMessage(data)
			}
			return a.send(cmd, req)
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	return cmd
}

func (a *app) send(cmd *cobra.Command, req *resilient.Request) error {
	client, err := a.cfg.NewClient(resilient.WithLogger(a.log))
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.Execute(cmd.Context(), req)
	if err != nil {
		return err
	}
	a.log.Debug("request finished",
		"status", resp.StatusCode,
		"request_id", resp.RequestID,
	)
	return writeJSON(cmd.OutOrStdout(), resp.Payload)
}

func parseQuery(params []string) (url.Values, error) {
	if len(params) == 0 {
		return nil, nil
	}
	q := url.Values{}
	for _, p := range params {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("query parameter %q: want key=value", p)
		}
		q.Add(k, v)
	}
	return q, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
