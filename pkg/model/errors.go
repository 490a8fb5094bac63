package model

import "github.com/m-mizutani/goerr/v2"

// Each sentinel carries an ID so that ErrX.Wrap(cause) still matches ErrX with
// errors.Is while keeping cause in the chain.
var (
	// ErrParseAmbiguity means the parser could not make sense of the input. The
	// human is expected to edit the input and resubmit.
	ErrParseAmbiguity = goerr.New("input is ambiguous", goerr.ID("parse_ambiguity"))

	// ErrSchemaViolation means a structured model response did not match the requested schema
	ErrSchemaViolation = goerr.New("response does not conform to schema", goerr.ID("schema_violation"))

	// ErrExecution means sandboxed code failed or was rejected
	ErrExecution = goerr.New("code execution failed", goerr.ID("execution"))

	ErrRetrieval     = goerr.New("knowledge retrieval failed", goerr.ID("retrieval"))
	ErrTranscription = goerr.New("transcription failed", goerr.ID("transcription"))

	// ErrCapability is a generic failure of the model capability (network, quota, credentials)
	ErrCapability = goerr.New("model capability failed", goerr.ID("capability"))

	ErrCredentialNotConfigured = goerr.New("credential not configured", goerr.ID("credential_not_configured"))
)
