package gaussdblo

import "os"

// Environment variables read by the tests that need a real server.
const (
	EnvGaussdbTestDatabase = "GAUSSDB_TEST_DATABASE"
	EnvIsOpengauss         = "IS_OPENGAUSS"
)

func IsTestingWithOpengauss() bool {
	return os.Getenv(EnvIsOpengauss) == "true"
}
