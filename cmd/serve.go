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
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/terraformation/device-ingest/pkg/broker/mqtt"
	"github.com/terraformation/device-ingest/pkg/config"
	"github.com/terraformation/device-ingest/pkg/connection"
	"github.com/terraformation/device-ingest/pkg/credential"
	"github.com/terraformation/device-ingest/pkg/event"
	"github.com/terraformation/device-ingest/pkg/logrouter"
	"github.com/terraformation/device-ingest/pkg/message"
	"github.com/terraformation/device-ingest/pkg/server"
	"github.com/terraformation/device-ingest/pkg/stats"
	"github.com/terraformation/device-ingest/pkg/timeseries"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingest service.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			logger.Fatal("failed to load config", zap.Error(err))
		}
		if err := cfg.Validate(); err != nil {
			logger.Fatal("invalid config", zap.Error(err))
		}

		counters := &stats.Counters{}
		bus, err := newBus(cfg)
		if err != nil {
			logger.Fatal("failed to create event bus", zap.Error(err))
		}

		opts := []server.Option{
			server.WithAddr(cfg.HTTP.Addr),
			server.WithCounters(counters),
			server.WithLogger(logger.Named("server")),
		}

		reporter, err := stats.NewReporter(counters, cfg.Stats.Schedule, logger.Named("stats"))
		if err != nil {
			logger.Fatal("failed to schedule stats", zap.Error(err))
		}

		if cfg.MQTT.Enabled {
			m, err := newConnection(cfg, bus, counters)
			if err != nil {
				logger.Fatal("failed to create broker connection", zap.Error(err))
			}
			opts = append(opts, server.WithConnection(m))
			if cfg.Stats.PublishTopic != "" {
				reporter.PublishTo(cfg.Stats.PublishTopic, m)
			}
		} else {
			logger.Info("MQTT is disabled; not connecting to broker")
		}
		opts = append(opts, server.WithReporter(reporter))

		logger.Debug("Listening address: " + cfg.HTTP.Addr)
		s, err := server.New(opts...)
		if err != nil {
			logger.Fatal("failed to create new server", zap.Error(err))
		}
		if err := s.Run(); err != nil {
			logger.Fatal("server run failed", zap.Error(err))
			os.Exit(1)
		}
	},
}

// newBus wires the downstream listeners for decoded device messages.
func newBus(cfg *config.Config) (*event.Bus, error) {
	bus := event.NewBus(logger.Named("event"))

	router, err := logrouter.FromConfig(logger.Named("device"), cfg.Logging.Routes)
	if err != nil {
		return nil, err
	}
	bus.Subscribe(router)

	registry := timeseries.NewRegistry()
	for _, d := range cfg.Devices {
		series := make(map[string]timeseries.SeriesID, len(d.Series))
		for name, id := range d.Series {
			series[name] = timeseries.SeriesID(id)
		}
		registry.Register(d.Topic, timeseries.DeviceID(d.ID), series)
	}
	tsLogger := logger.Named("timeseries")
	bus.Subscribe(timeseries.NewListener(registry, registry, timeseries.LogRecorder{Logger: tsLogger}, tsLogger))

	return bus, nil
}

func newConnection(cfg *config.Config, bus *event.Bus, counters *stats.Counters) (*connection.Manager, error) {
	m := cfg.MQTT
	opts := []connection.Option{
		connection.WithServerURI(m.Address),
		connection.WithClientID(m.ClientID),
		connection.WithTopicFilter(m.TopicFilter()),
		connection.WithQoS(byte(m.QoS)),
		connection.WithRetryInterval(m.RetryInterval()),
		connection.WithClientFactory(mqtt.Factory(mqtt.WithLogger(logger.Named("mqtt")))),
		connection.WithParser(message.NewParser(message.WithLogger(logger.Named("parser")))),
		connection.WithDispatcher(bus),
		connection.WithCounters(counters),
		connection.WithLogger(logger.Named("connection")),
	}
	if m.Password != "" {
		opts = append(opts, connection.WithPassword(m.Password))
	} else {
		opts = append(opts, connection.WithIssuer(credential.NewIssuer(m.SigningSecret)))
	}
	return connection.New(opts...)
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listening address of the status server.")
	if err := viper.BindPFlag("http.addr", serveCmd.Flags().Lookup("addr")); err != nil {
		panic(err)
	}
}
