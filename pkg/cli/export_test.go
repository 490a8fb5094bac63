package cli

var (
	NewRootCommand = newRootCommand
	ReadProblem    = readProblem
	ReadDocuments  = readDocuments
)
