package constants

// DefaultTableName - default DynamoDB table holding persisted maps
const DefaultTableName = "AWSLambdaPersistence"

// DefaultKeyFieldName - default name of the table's hash key attribute
const DefaultKeyFieldName = "key"

// DefaultValueFieldName - default name of the attribute holding the
// encoded map contents
const DefaultValueFieldName = "value"

// EnvLambdaFunctionName - set by the Lambda runtime, used as the
// default record identity so each function gets its own record
const EnvLambdaFunctionName = "AWS_LAMBDA_FUNCTION_NAME"

// EnvPrefix - prefix for configuration overrides. Each configuration
// option can be overridden by EnvPrefix + the uppercased option name,
// e.g. PERSISTENCE_TABLE_NAME. Environment overrides always win over
// values passed to the constructor.
const EnvPrefix = "PERSISTENCE_"

// Recognized configuration option names
const (
	OptionTableName      = "table_name"
	OptionTableKey       = "table_key"
	OptionKeyFieldName   = "key_field_name"
	OptionValueFieldName = "value_field_name"
)

// aws related config
const (
	EnvAWSRegion           = "AWS_REGION"
	EnvAWSDefaultRegion    = "AWS_DEFAULT_REGION"
	EnvAWSDynamoDBEndpoint = "AWS_DYNAMODB_ENDPOINT"
)

// EnvDebug - set to "true" to enable debug logging
const EnvDebug = "DEBUG"
