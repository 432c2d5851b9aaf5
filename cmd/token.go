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
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terraformation/device-ingest/pkg/credential"
)

var (
	tokenSubject string
	tokenFilter  string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a broker credential signed with the configured secret.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			logger.Fatal("failed to load config", zap.Error(err))
		}

		subject := tokenSubject
		if subject == "" {
			subject = cfg.MQTT.ClientID
		}
		filter := tokenFilter
		if filter == "" {
			filter = cfg.MQTT.TopicFilter()
		}

		token, err := credential.NewIssuer(cfg.MQTT.SigningSecret).Issue(subject, filter)
		if err != nil {
			logger.Fatal("failed to issue credential", zap.Error(err))
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "credential subject (default is mqtt.client_id)")
	tokenCmd.Flags().StringVar(&tokenFilter, "filter", "", "topic filter to authorize (default is <mqtt.topic_prefix>/#)")
}
