package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	kingpin "github.com/alecthomas/kingpin/v2"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/lambdamap/lambdamap/constants"
	"github.com/lambdamap/lambdamap/persistence"
	"github.com/lambdamap/lambdamap/store"
	"github.com/lambdamap/lambdamap/store/dynamodb"
	"github.com/lambdamap/lambdamap/util/codecs"
	"github.com/lambdamap/lambdamap/version"

	log "github.com/sirupsen/logrus"
)

// EnvLambdaRuntimeAPI - set by the Lambda runtime, used to decide
// whether to serve the handler or run the check directly
const EnvLambdaRuntimeAPI = "AWS_LAMBDA_RUNTIME_API"

// checkStore - the end to end check also drops records, which is not
// part of the store.Store contract
type checkStore interface {
	store.Store
	Delete(table, keyField, key string) error
}

// Response - lambda handler response
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

func main() {
	table := kingpin.Flag("table", "table used by the end to end check").Default("TestingAWSLambdaPersistence").Envar("LAMBDAMAP_CHECK_TABLE").String()
	recordKey := kingpin.Flag("record-key", "record identity used by the end to end check").Envar("LAMBDAMAP_CHECK_KEY").String()
	region := kingpin.Flag("region", "AWS region").Envar(constants.EnvAWSRegion).String()
	endpoint := kingpin.Flag("endpoint", "custom DynamoDB endpoint (e.g. a local DynamoDB)").Envar(constants.EnvAWSDynamoDBEndpoint).String()

	ver := version.Get()
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(ver.Version)
	kingpin.CommandLine.Help = "Runs the lambdamap end to end persistence check against DynamoDB."
	kingpin.Parse()

	if os.Getenv(constants.EnvDebug) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	log.WithFields(log.Fields{
		"version":    ver.Version,
		"revision":   ver.Revision,
		"build_date": ver.BuildDate,
		"go_version": ver.GoVersion,
	}).Info("lambdamap starting...")

	key := *recordKey
	if key == "" {
		key = os.Getenv(constants.EnvLambdaFunctionName)
	}
	if key == "" {
		key = "lambdamap-check"
	}

	st, err := dynamodb.New(dynamodb.Opts{Region: *region, Endpoint: *endpoint})
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Error("failed to initialize DynamoDB store")
		os.Exit(1)
	}

	if os.Getenv(EnvLambdaRuntimeAPI) != "" {
		lambda.Start(func(ctx context.Context) (Response, error) {
			if err := selfCheck(st, *table, key); err != nil {
				log.WithFields(log.Fields{
					"error": err,
				}).Error("end to end check failed")
				return Response{StatusCode: 200, Body: `"Failed"`}, nil
			}
			return Response{StatusCode: 200, Body: `"Success"`}, nil
		})
		return
	}

	if err := selfCheck(st, *table, key); err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Error("end to end check failed")
		os.Exit(1)
	}
	log.Info("end to end check passed")
}

// selfCheck exercises the full persistence lifecycle against a live
// backing store: provisioning, seeding, loading, coalesced writes,
// deletes, clears and a time value round trip.
func selfCheck(st checkStore, table, key string) error {
	serializer := codecs.DefaultSerializer()
	cfg := persistence.Args{"table_name": table, "table_key": key}

	start := time.Now()
	data, err := persistence.New(st, serializer, cfg)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"took":  time.Since(start).String(),
		"table": table,
		"gets":  data.TotalGets(),
		"puts":  data.TotalPuts(),
	}).Info("constructed map")

	start = time.Now()
	data, err = persistence.NewFrom(st, serializer, map[string]interface{}{"foo": 42}, cfg)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"took": time.Since(start).String(),
	}).Info("seeded map with content")
	if err := expect(data.TotalGets() == 0 && data.TotalPuts() == 1, "seed expected 0 gets 1 put, got %d/%d", data.TotalGets(), data.TotalPuts()); err != nil {
		return err
	}

	start = time.Now()
	data, err = persistence.New(st, serializer, cfg)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"took": time.Since(start).String(),
	}).Info("loaded map")
	if err := expect(data.TotalGets() == 1 && data.TotalPuts() == 0, "load expected 1 get 0 puts, got %d/%d", data.TotalGets(), data.TotalPuts()); err != nil {
		return err
	}
	if v, _ := data.Get("foo"); !equalsInt(v, 42) {
		return fmt.Errorf("expected foo == 42, got %v", v)
	}

	if err := data.Set("foo", 52); err != nil {
		return err
	}
	if err := expect(data.TotalPuts() == 1, "changing a value expected 1 put, got %d", data.TotalPuts()); err != nil {
		return err
	}

	if err := data.Update(map[string]interface{}{"foo": 62, "bar": "buz"}); err != nil {
		return err
	}
	if err := expect(data.TotalPuts() == 2, "bulk update expected 1 additional put, got %d total", data.TotalPuts()); err != nil {
		return err
	}

	if err := data.Delete("bar"); err != nil {
		return err
	}
	if data.Contains("bar") {
		return errors.New("bar should be gone after delete")
	}

	if err := data.Clear(); err != nil {
		return err
	}
	if err := expect(data.Len() == 0, "clear should leave an empty map, len %d", data.Len()); err != nil {
		return err
	}

	// time values must survive a full round trip
	now := time.Now()
	if err := data.Set("bar", now); err != nil {
		return err
	}
	data, err = persistence.New(st, serializer, cfg)
	if err != nil {
		return err
	}
	stored, ok := data.Get("bar")
	if !ok {
		return errors.New("time value did not persist")
	}
	storedTime, ok := stored.(time.Time)
	if !ok || !storedTime.Equal(now) {
		return fmt.Errorf("time round trip failed: %v", stored)
	}

	// drop the record and load against the existing but empty table
	if err := st.Delete(table, data.Config().KeyFieldName, key); err != nil {
		return err
	}
	data, err = persistence.New(st, serializer, cfg)
	if err != nil {
		return err
	}

	entries := map[string]interface{}{
		"bar": time.Date(2021, 11, 13, 3, 16, 8, 549614000, time.UTC),
		"foo": map[string]interface{}{"buz": "bad"},
	}
	if err := data.Update(entries); err != nil {
		return err
	}
	if err := expect(data.TotalPuts() == 1, "first update expected 1 put, got %d", data.TotalPuts()); err != nil {
		return err
	}
	// identical update must not write
	if err := data.Update(entries); err != nil {
		return err
	}
	return expect(data.TotalPuts() == 1, "identical update should not write, got %d puts", data.TotalPuts())
}

func expect(cond bool, format string, args ...interface{}) error {
	if !cond {
		return fmt.Errorf(format, args...)
	}
	return nil
}

// equalsInt compares a stored value with an integer regardless of
// whether it went through a codec round trip
func equalsInt(v interface{}, want int64) bool {
	switch n := v.(type) {
	case int:
		return int64(n) == want
	case int64:
		return n == want
	}
	return false
}
