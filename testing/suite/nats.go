package suite

import (
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

const (
	natsPort  = "4222/tcp"
	natsImage = "nats"
	natsTag   = "alpine"
)

// NewNATS - starts a throwaway nats server and returns a connection to it.
// Tests are skipped when docker is not reachable.
func NewNATS(t *testing.T) (string, *nats.Conn) {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker is not available: %v", err)
	}

	if err = pool.Client.Ping(); err != nil {
		t.Skipf("docker is not reachable: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: natsImage,
		Tag:        natsTag,
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("could not start nats: %v", err)
	}

	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Logf("could not purge nats: %v", err)
		}
	})

	_ = resource.Expire(expireDuration)

	pool.MaxWait = maxWaitDuration

	url := "nats://" + resource.GetHostPort(natsPort)

	var conn *nats.Conn
	if err = pool.Retry(func() error {
		conn, err = nats.Connect(url)
		return err
	}); err != nil {
		t.Fatalf("could not connect to nats: %v", err)
	}
	t.Cleanup(conn.Close)

	return url, conn
}
