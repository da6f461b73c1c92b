package queue

// Package queue holds the ordered conversion queue of the running job. The
// conversion worker is its only writer; observers read copies.
