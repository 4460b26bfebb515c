// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dataset

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/gorse-io/graphcf/base/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// ReadFeedback parses "user item [rating]" lines. Fields are separated by sep, or by white spaces
// if sep is empty. Blank lines are skipped.
func ReadFeedback(r io.Reader, sep string, handler func(userId, itemId string)) error {
	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var fields []string
		if sep == "" {
			fields = strings.Fields(line)
		} else {
			fields = strings.Split(line, sep)
		}
		if len(fields) < 2 {
			return errors.Errorf("line %d: expect at least 2 fields but got %d", lineNumber, len(fields))
		}
		handler(strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1]))
	}
	return errors.Trace(scanner.Err())
}

func readFeedbackFile(path, sep string, handler func(userId, itemId string)) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer file.Close()
	return errors.Annotate(ReadFeedback(file, sep, handler), path)
}

// LoadDataset loads training, validation and test feedback. The test feedback doubles as
// validation feedback if validationPath is empty.
func LoadDataset(trainPath, validationPath, testPath, sep string) (*Dataset, error) {
	d := NewDataset()
	if err := readFeedbackFile(trainPath, sep, d.AddFeedback); err != nil {
		return nil, err
	}
	if validationPath == "" {
		validationPath = testPath
	}
	var dropped int
	if validationPath != "" {
		if err := readFeedbackFile(validationPath, sep, func(userId, itemId string) {
			if !d.AddValidation(userId, itemId) {
				dropped++
			}
		}); err != nil {
			return nil, err
		}
	}
	if testPath != "" {
		if err := readFeedbackFile(testPath, sep, func(userId, itemId string) {
			if !d.AddTest(userId, itemId) {
				dropped++
			}
		}); err != nil {
			return nil, err
		}
	}
	log.Logger().Info("load dataset",
		zap.Int("n_users", d.CountUsers()),
		zap.Int("n_items", d.CountItems()),
		zap.Int("n_train", d.CountFeedback()),
		zap.Int("n_validation", d.Validation().Count()),
		zap.Int("n_test", d.Test().Count()),
		zap.Int("n_dropped", dropped))
	return d, nil
}
