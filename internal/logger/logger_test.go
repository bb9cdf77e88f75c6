// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"bytes"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func redirectToBuffer(buf *bytes.Buffer, format, level string) {
	defaultLoggerFactory.format = format
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(buf, programLevel, ""))
	setLoggingLevel(level, programLevel)
}

func TestSeverityFiltering(t *testing.T) {
	testCases := []struct {
		level       string
		expectDebug bool
		expectWarn  bool
	}{
		{Off, false, false},
		{Error, false, false},
		{Warning, false, true},
		{Debug, true, true},
		{Trace, true, true},
	}

	for _, tc := range testCases {
		var buf bytes.Buffer
		redirectToBuffer(&buf, "text", tc.level)

		Debugf("www.debugExample.com")
		debugOut := buf.String()
		buf.Reset()

		Warnf("www.warnExample.com")
		warnOut := buf.String()

		if tc.expectDebug {
			require.Regexp(t, regexp.MustCompile(`severity=DEBUG`), debugOut)
		} else {
			require.Empty(t, debugOut)
		}
		if tc.expectWarn {
			require.Regexp(t, regexp.MustCompile(`severity=WARNING`), warnOut)
		} else {
			require.Empty(t, warnOut)
		}
	}
}

func TestJSONFormatIncludesTimestampGroup(t *testing.T) {
	var buf bytes.Buffer
	redirectToBuffer(&buf, "json", Info)

	Infof("www.infoExample.com")

	require.Regexp(t, regexp.MustCompile(`"timestamp":\{"seconds":\d+,"nanos":\d+\}`), buf.String())
	require.Regexp(t, regexp.MustCompile(`"severity":"INFO"`), buf.String())
	require.Regexp(t, regexp.MustCompile(`"message":"www.infoExample.com"`), buf.String())
}

func TestInitLogFileSwitchesOutputToRotatedFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/kernelfs.log"

	err := InitLogFile(FileConfig{
		FilePath: path,
		Severity: Debug,
		Format:   "text",
		Rotate:   RotateConfig{MaxFileSizeMB: 10, BackupFileCount: 3, Compress: true},
	})
	require.NoError(t, err)
	require.Equal(t, path, defaultLoggerFactory.file.Filename)
	require.Equal(t, "text", defaultLoggerFactory.format)

	Infof("written to file")
}
