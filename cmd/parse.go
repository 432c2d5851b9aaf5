// This file is part of device-ingest
//
// Copyright (C) 2021  Terraformation
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>

package cmd

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/terraformation/device-ingest/pkg/message"
)

var errDropped = errors.New("message dropped")

var parseTopic string

var parseCmd = &cobra.Command{
	Use:   "parse PAYLOAD",
	Short: "Decode a device payload the way the ingest service would.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := message.NewParser(message.WithLogger(logger.Named("parser")))
		out, err := describe(p.Parse(parseTopic, []byte(args[0])))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

type described struct {
	Type    string          `json:"type"`
	Message message.Message `json:"message"`
}

// describe renders a parsed message as indented JSON tagged with its kind.
func describe(msg message.Message) (string, error) {
	d := described{Message: msg}
	switch msg.(type) {
	case *message.TimeseriesUpdate:
		d.Type = "timeseries"
	case *message.LogMessage:
		d.Type = "log"
	default:
		return "", errDropped
	}

	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func init() {
	rootCmd.AddCommand(parseCmd)
	parseCmd.Flags().StringVar(&parseTopic, "topic", "terraware/cli", "topic the payload arrived on")
}
