// Package config loads Countertop configuration.
//
// Configuration is layered. Load starts from Default, merges each file
// layer in order (YAML or JSON, later layers override earlier ones key by
// key, lists are replaced), loads optional .env files and finally applies
// COUNTERTOP_* environment variables:
//
//	COUNTERTOP_BROKER_KIND        nats | memory
//	COUNTERTOP_BROKER_URLS        comma separated server list
//	COUNTERTOP_BROKER_RETENTION   Go duration, e.g. 30s
//	COUNTERTOP_BROKER_CLIENT_ID
//	COUNTERTOP_BROKER_CODEC       binary | text
//	COUNTERTOP_BROKER_TOKEN
//	COUNTERTOP_LOG_LEVEL, COUNTERTOP_LOG_FORMAT, COUNTERTOP_LOG_FILE
//	COUNTERTOP_HTTP_ADDR
//	COUNTERTOP_STORE_ENABLED, COUNTERTOP_STORE_BUCKET
//	COUNTERTOP_LOCK_FILE
//
// A minimal file:
//
//	broker:
//	  kind: nats
//	  urls: [nats://localhost:4222]
//	  retention: 30s
//	appliances:
//	  - class: TextFile
//	    label: reader
//	    config: {path: ./input.txt}
//	  - class: SentenceSplitter
//	  - class: LogSink
//	    input_type_filter: [TEXT.SENTENCE]
//
// Usage:
//
//	loader := config.NewLoader()
//	loader.AddLayer("countertop.yaml")
//	loader.AddEnvFile(".env")
//	cfg, err := loader.Load()
//
// SafeConfig wraps a Config for concurrent readers; Get returns deep
// copies and Update validates before swapping.
package config
