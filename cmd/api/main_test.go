package main

import "testing"

func TestConnectPostgresPoolEmptyURLExits(t *testing.T) {
	t.Skip("connectPostgresPool calls os.Exit(1) on a misconfigured DATABASE_URL; exercised via deployment smoke tests, not in-process")
}
