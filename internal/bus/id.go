package bus

import "strconv"

func formatSubID(n uint64) string {
	return "busid-" + strconv.FormatUint(n, 36)
}
