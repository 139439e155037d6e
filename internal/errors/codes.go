// Package errors provides structured error handling for AmanRAG.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (files, assets, sidecars)
//   - 3XX: Dependency errors (parser, converter, encoder, vector store, object store, LLM)
//   - 4XX: Validation errors
//   - 5XX: Internal and processing errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, asset, and sidecar I/O errors.
	CategoryIO Category = "IO"
	// CategoryDependency indicates errors from external collaborators.
	CategoryDependency Category = "DEPENDENCY"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigPermission = "ERR_103_CONFIG_PERMISSION"

	// IO errors (200-299)
	ErrCodeFileNotFound     = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission   = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull         = "ERR_203_DISK_FULL"
	ErrCodeMarkdownTooLarge = "ERR_204_MARKDOWN_TOO_LARGE"
	ErrCodeCorruptedData    = "ERR_205_CORRUPTED_DATA"
	ErrCodeAssetNotFound    = "ERR_206_ASSET_NOT_FOUND"

	// Dependency errors (300-399)
	ErrCodeDependencyTimeout      = "ERR_301_DEPENDENCY_TIMEOUT"
	ErrCodeVectorStoreUnavailable = "ERR_302_VECTOR_STORE_UNAVAILABLE"
	ErrCodeParserUnavailable      = "ERR_303_PARSER_UNAVAILABLE"
	ErrCodeConverterUnavailable   = "ERR_304_CONVERTER_UNAVAILABLE"
	ErrCodeEncoderUnavailable     = "ERR_305_ENCODER_UNAVAILABLE"
	ErrCodeObjectStoreUnavailable = "ERR_306_OBJECT_STORE_UNAVAILABLE"
	ErrCodeLLMUnavailable         = "ERR_307_LLM_UNAVAILABLE"
	ErrCodeRateLimited            = "ERR_308_RATE_LIMITED"

	// Validation errors (400-499)
	ErrCodeInvalidInput     = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidDocID     = "ERR_402_INVALID_DOC_ID"
	ErrCodeInvalidQuery     = "ERR_403_INVALID_QUERY"
	ErrCodeDocumentNotFound = "ERR_404_DOCUMENT_NOT_FOUND"
	ErrCodeInvalidFilename  = "ERR_405_INVALID_FILENAME"
	ErrCodeAccessDenied     = "ERR_406_ACCESS_DENIED"
	ErrCodeDuplicate        = "ERR_407_DUPLICATE_DOCUMENT"
	ErrCodeChunkNotFound    = "ERR_408_CHUNK_NOT_FOUND"

	// Internal and processing errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeParseFailed     = "ERR_504_PARSE_FAILED"
	ErrCodeStoreFailed     = "ERR_505_STORE_FAILED"
	ErrCodeJobTimeout      = "ERR_506_JOB_TIMEOUT"
	ErrCodeJobCancelled    = "ERR_507_JOB_CANCELLED"
	ErrCodeQueueFull       = "ERR_508_QUEUE_FULL"
	ErrCodeEncoderOOM      = "ERR_509_ENCODER_OOM"
	ErrCodeResearchFailed  = "ERR_510_RESEARCH_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "302" from "ERR_302_VECTOR_STORE_UNAVAILABLE")
	numStr := code[4:7]
	if len(numStr) < 1 {
		return CategoryInternal
	}

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryDependency
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Fatal errors abort the current job
	switch code {
	case ErrCodeDiskFull, ErrCodeEncoderOOM:
		return SeverityFatal
	}

	// Retryable dependency errors get warning severity
	if isRetryableCode(code) {
		return SeverityWarning
	}

	// Default to error severity
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Dependency outages are retryable per stage; queue overflow is retryable
// by the event producer.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeDependencyTimeout,
		ErrCodeVectorStoreUnavailable,
		ErrCodeParserUnavailable,
		ErrCodeConverterUnavailable,
		ErrCodeEncoderUnavailable,
		ErrCodeObjectStoreUnavailable,
		ErrCodeLLMUnavailable,
		ErrCodeRateLimited,
		ErrCodeQueueFull:
		return true
	default:
		return false
	}
}
