package executor

import ps "github.com/mitchellh/go-ps"

// scanDescendants returns the pids of every live process whose parent is
// pid, grounded on drivers/shared/executor's scanPids helper in the
// teacher repo (same approach, applied here to report orphans left behind
// after a SIGKILL rather than to build a cgroup-free kill set).
func scanDescendants(pid int) []int {
	procs, err := ps.Processes()
	if err != nil {
		return nil
	}
	var children []int
	for _, p := range procs {
		if p.PPid() == pid {
			children = append(children, p.Pid())
		}
	}
	return children
}
