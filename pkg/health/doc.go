/*
Package health provides probes used to decide when cluster members are ready.

Every probe implements Checker and returns a Result; none of them retry.
Retrying and backoff belong to the caller (see package retry).

  - HTTPChecker asks a URL and checks the status code
  - TCPChecker opens a TCP connection
  - GRPCChecker waits for a client channel to reach READY
  - BSControllerProbe passes once the storage controller tablet answers on
    any node's monitoring port; the orchestrator polls it after start-up

Predicate adapts a Checker to the func(ctx) bool shape used by process
readiness checks.
*/
package health
