package clusterstate

import "context"

// Static is a fixed-membership ClusterState for single-node
// deployments and tests, where there is no real election to run.
type Static struct {
	myIndex      int
	firstAlive   int
	firstAliveOK bool
}

func NewStatic(myIndex, firstAliveIndex int) *Static {
	return &Static{myIndex: myIndex, firstAlive: firstAliveIndex, firstAliveOK: true}
}

func (s *Static) FirstAliveNodeIndex(ctx context.Context) (int, bool, error) {
	return s.firstAlive, s.firstAliveOK, nil
}

func (s *Static) MyNodeIndex() int {
	return s.myIndex
}
