// Package clusterstate provides reference implementations of
// api.ClusterState.
package clusterstate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZKClusterState elects the first-alive node by registering an
// ephemeral, sequential znode per process under basePath and treating
// the lowest-sequence live child as first-alive. Grounded on the
// ephemeral-registration/children-watch pattern used by ZooKeeper-based
// membership elsewhere in this ecosystem.
type ZKClusterState struct {
	conn     *zk.Conn
	basePath string
	myIndex  int
	myPath   string
}

// NewZKClusterState connects to the given ZooKeeper ensemble, ensures
// basePath exists, and registers this process as an ephemeral
// sequential child.
func NewZKClusterState(servers []string, basePath string, sessionTimeout time.Duration) (*ZKClusterState, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	cs := &ZKClusterState{conn: conn, basePath: basePath}
	if err := cs.ensurePath(basePath); err != nil {
		conn.Close()
		return nil, err
	}
	path, err := conn.Create(basePath+"/n-", nil, zk.FlagEphemeral|zk.FlagSequence, zk.WorldACL(zk.PermAll))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("zk register: %w", err)
	}
	cs.myPath = path
	return cs, nil
}

func (cs *ZKClusterState) ensurePath(path string) error {
	exists, _, err := cs.conn.Exists(path)
	if err != nil {
		return fmt.Errorf("zk exists %q: %w", path, err)
	}
	if exists {
		return nil
	}
	_, err = cs.conn.Create(path, nil, 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return fmt.Errorf("zk create %q: %w", path, err)
	}
	return nil
}

func (cs *ZKClusterState) Close() {
	cs.conn.Close()
}

func (cs *ZKClusterState) readNodes() ([]string, error) {
	children, _, err := cs.conn.Children(cs.basePath)
	if err != nil {
		return nil, fmt.Errorf("zk children: %w", err)
	}
	sort.Strings(children)
	return children, nil
}

// FirstAliveNodeIndex returns the rank (0-based, by ascending sequence
// number) of the lowest-sequence live child, which this process also
// uses as its own node index once it has registered.
func (cs *ZKClusterState) FirstAliveNodeIndex(ctx context.Context) (int, bool, error) {
	children, err := cs.readNodes()
	if err != nil {
		return 0, false, err
	}
	if len(children) == 0 {
		return 0, false, nil
	}
	myName := cs.myPath[strings.LastIndex(cs.myPath, "/")+1:]
	for i, child := range children {
		if child == myName {
			cs.myIndex = i
		}
	}
	// children is sorted ascending by ZooKeeper's zero-padded sequence
	// suffix, so the first-alive node always occupies rank 0 in this
	// node's own index space.
	return 0, true, nil
}

func (cs *ZKClusterState) MyNodeIndex() int {
	return cs.myIndex
}
