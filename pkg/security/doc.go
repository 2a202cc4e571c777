/*
Package security generates the key material a test cluster needs.

When TLS is enabled and no CA is configured, the orchestrator calls
WriteTLSBundle to create a throwaway CA and one node certificate shared by
every member. Slots that store encrypted data get a key config written by
WriteEncryptionKeyFile and passed through --key-file.

Nothing here is persisted beyond the files written into the cluster's
directories.
*/
package security
