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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraformation/device-ingest/pkg/message"
)

func Test_describe(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		msg     message.Message
		want    string
		wantErr bool
	}{
		{
			name: "timeseries",
			msg:  &message.TimeseriesUpdate{Topic: "t", Timestamp: ts, Values: map[string]string{"temp": "21.5"}},
			want: `{"type":"timeseries","message":{"topic":"t","timestamp":"2024-01-01T00:00:00Z","values":{"temp":"21.5"}}}`,
		},
		{
			name: "log",
			msg:  &message.LogMessage{Topic: "t", Timestamp: ts, Level: message.LevelWarn, Text: "disk low"},
			want: `{"type":"log","message":{"topic":"t","timestamp":"2024-01-01T00:00:00Z","level":"WARN","text":"disk low"}}`,
		},
		{
			name:    "dropped",
			msg:     nil,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := describe(tt.msg)
			if tt.wantErr {
				assert.True(t, errors.Is(err, errDropped))
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, got)
		})
	}
}
