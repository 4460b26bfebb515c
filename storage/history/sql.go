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

package history

import (
	"context"
	"database/sql"
	"net/url"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	"github.com/gorse-io/graphcf/base/log"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	_ "modernc.org/sqlite"
)

// SQLDatabase stores evaluations in MySQL, PostgreSQL or SQLite.
type SQLDatabase struct {
	client *sql.DB
	gormDB *gorm.DB
}

func newGORMConfig(tablePrefix string) *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(zap.NewStdLog(log.Logger()), logger.Config{
			SlowThreshold:             10 * time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		SkipDefaultTransaction: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   tablePrefix,
			SingularTable: true,
		},
	}
}

func openDB(driver, dsn string) (*sql.DB, error) {
	db, err := otelsql.Open(driver, dsn,
		otelsql.WithAttributes(attribute.String("db.system", driver)),
		otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
	)
	return db, errors.Trace(err)
}

func openSQL(dsn, tablePrefix string) (*SQLDatabase, error) {
	var (
		database  = new(SQLDatabase)
		dialector gorm.Dialector
		err       error
	)
	switch {
	case strings.HasPrefix(dsn, MySQLPrefix):
		if database.client, err = openDB("mysql", dsn[len(MySQLPrefix):]+mysqlParams(dsn)); err != nil {
			return nil, err
		}
		dialector = mysql.New(mysql.Config{Conn: database.client})
	case strings.HasPrefix(dsn, SQLitePrefix):
		if dsn, err = appendURLParams(dsn, []lo.Tuple2[string, string]{
			{A: "_pragma", B: "busy_timeout(10000)"},
			{A: "_pragma", B: "journal_mode(wal)"},
		}); err != nil {
			return nil, err
		}
		if database.client, err = openDB("sqlite", dsn[len(SQLitePrefix):]); err != nil {
			return nil, err
		}
		dialector = sqlite.Dialector{Conn: database.client}
	default:
		if database.client, err = openDB("postgres", dsn); err != nil {
			return nil, err
		}
		dialector = postgres.New(postgres.Config{Conn: database.client})
	}
	if database.gormDB, err = gorm.Open(dialector, newGORMConfig(tablePrefix)); err != nil {
		return nil, errors.Trace(err)
	}
	return database, nil
}

func appendURLParams(rawURL string, params []lo.Tuple2[string, string]) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Trace(err)
	}
	q := parsed.Query()
	for _, param := range params {
		q.Add(param.A, param.B)
	}
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

func mysqlParams(dsn string) string {
	if strings.Contains(dsn, "parseTime") {
		return ""
	}
	if strings.Contains(dsn, "?") {
		return "&parseTime=true"
	}
	return "?parseTime=true"
}

func (d *SQLDatabase) Init(ctx context.Context) error {
	return errors.Trace(d.gormDB.WithContext(ctx).AutoMigrate(&Evaluation{}))
}

func (d *SQLDatabase) Insert(ctx context.Context, evaluations ...Evaluation) error {
	if len(evaluations) == 0 {
		return nil
	}
	return errors.Trace(d.gormDB.WithContext(ctx).Create(&evaluations).Error)
}

func (d *SQLDatabase) List(ctx context.Context, runID string) ([]Evaluation, error) {
	var evaluations []Evaluation
	err := d.gormDB.WithContext(ctx).Where("run_id = ?", runID).Order("id").Find(&evaluations).Error
	return evaluations, errors.Trace(err)
}

func (d *SQLDatabase) Runs(ctx context.Context) ([]string, error) {
	var runs []string
	err := d.gormDB.WithContext(ctx).Model(&Evaluation{}).Distinct("run_id").Order("run_id").Pluck("run_id", &runs).Error
	return runs, errors.Trace(err)
}

func (d *SQLDatabase) Close() error {
	return errors.Trace(d.client.Close())
}
