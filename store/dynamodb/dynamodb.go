package dynamodb

import (
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"

	"github.com/lambdamap/lambdamap/constants"
	"github.com/lambdamap/lambdamap/store"

	log "github.com/sirupsen/logrus"
)

// accessDeniedCode - returned by DynamoDB when the caller's IAM role
// lacks a required permission. Not exported as a constant by the SDK.
const accessDeniedCode = "AccessDeniedException"

// table creation can take up to 15 seconds
const (
	waiterDelay       = 2 * time.Second
	waiterMaxAttempts = 10
)

// Store - DynamoDB implementation of store.Store
type Store struct {
	svc *dynamodb.DynamoDB
}

// Opts - DynamoDB client options. Zero values fall back to the
// ambient AWS environment (AWS_REGION, AWS_DYNAMODB_ENDPOINT).
type Opts struct {
	Region   string
	Endpoint string
}

// New creates a DynamoDB backed store
func New(opts Opts) (*Store, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, err
	}

	cfg := aws.NewConfig()
	if opts.Region != "" {
		cfg = cfg.WithRegion(opts.Region)
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv(constants.EnvAWSDynamoDBEndpoint)
	}
	if endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint)
	}

	return &Store{svc: dynamodb.New(sess, cfg)}, nil
}

// Describe reports whether the table exists
func (s *Store) Describe(table string) (bool, error) {
	_, err := s.svc.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeResourceNotFoundException {
			return false, nil
		}
		return false, translate(err)
	}
	return true, nil
}

// Create provisions the table with a string hash key and blocks until
// DynamoDB reports it active
func (s *Store) Create(table, keyField string) error {
	log.WithFields(log.Fields{
		"table":     table,
		"key_field": keyField,
	}).Info("store.dynamodb: creating table")

	_, err := s.svc.CreateTable(&dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String(keyField),
				AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
			},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String(keyField),
				KeyType:       aws.String(dynamodb.KeyTypeHash),
			},
		},
		BillingMode: aws.String(dynamodb.BillingModeProvisioned),
		ProvisionedThroughput: &dynamodb.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(1),
			WriteCapacityUnits: aws.Int64(1),
		},
		Tags: []*dynamodb.Tag{
			{
				Key:   aws.String("Description"),
				Value: aws.String(fmt.Sprintf("This table contains persistent data for the AWS Lambda function %s added by lambdamap", table)),
			},
		},
	})
	if err != nil {
		return translate(err)
	}

	err = s.svc.WaitUntilTableExistsWithContext(
		aws.BackgroundContext(),
		&dynamodb.DescribeTableInput{TableName: aws.String(table)},
		request.WithWaiterDelay(request.ConstantWaiterDelay(waiterDelay)),
		request.WithWaiterMaxAttempts(waiterMaxAttempts),
	)
	if err != nil {
		return translate(err)
	}
	return nil
}

// Put writes the encoded value into the record identified by key
func (s *Store) Put(table, keyField, key, valueField string, value []byte) error {
	_, err := s.svc.PutItem(&dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item: map[string]*dynamodb.AttributeValue{
			keyField:   {S: aws.String(key)},
			valueField: {B: value},
		},
	})
	if err != nil {
		return translate(err)
	}
	return nil
}

// Get reads the encoded value stored under key
func (s *Store) Get(table, keyField, key, valueField string) ([]byte, error) {
	resp, err := s.svc.GetItem(&dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key: map[string]*dynamodb.AttributeValue{
			keyField: {S: aws.String(key)},
		},
		ProjectionExpression:     aws.String("#v"),
		ExpressionAttributeNames: map[string]*string{"#v": aws.String(valueField)},
	})
	if err != nil {
		return nil, translate(err)
	}

	attr, ok := resp.Item[valueField]
	if !ok || attr.B == nil {
		return nil, store.ErrRecordNotFound
	}
	return attr.B, nil
}

// Delete removes the record identified by key. Not part of the
// store.Store contract, used by the end to end check.
func (s *Store) Delete(table, keyField, key string) error {
	_, err := s.svc.DeleteItem(&dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key: map[string]*dynamodb.AttributeValue{
			keyField: {S: aws.String(key)},
		},
	})
	if err != nil {
		return translate(err)
	}
	return nil
}

// translate maps DynamoDB error codes onto the store sentinels
func translate(err error) error {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return err
	}
	switch aerr.Code() {
	case accessDeniedCode:
		return fmt.Errorf("%w: %s", store.ErrAccessDenied, aerr.Message())
	case dynamodb.ErrCodeResourceNotFoundException:
		return fmt.Errorf("%w: %s", store.ErrTableNotFound, aerr.Message())
	}
	return err
}
