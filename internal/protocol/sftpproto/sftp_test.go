package sftpproto

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func testHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return sshPub
}

func TestFingerprintMatchesSHA256WithOrWithoutPrefix(t *testing.T) {
	key := testHostKey(t)
	fp := ssh.FingerprintSHA256(key)

	require.True(t, fingerprintMatches(key, fp))
	require.True(t, fingerprintMatches(key, fp[len("SHA256:"):]))
}

func TestFingerprintMatchesLegacyMD5(t *testing.T) {
	key := testHostKey(t)
	require.True(t, fingerprintMatches(key, ssh.FingerprintLegacyMD5(key)))
}

func TestFingerprintMatchesRejectsWrongKey(t *testing.T) {
	key := testHostKey(t)
	other := testHostKey(t)

	require.False(t, fingerprintMatches(key, ssh.FingerprintSHA256(other)))
}

func TestSSHArgsIncludeAcceptNewWhenNoFingerprintConfigured(t *testing.T) {
	a := &Adapter{opt: Options{Host: "example.com", Port: "22"}}
	args := a.sshArgs()

	found := false
	for i, v := range args {
		if v == "StrictHostKeyChecking=accept-new" && i > 0 && args[i-1] == "-o" {
			found = true
		}
	}
	require.True(t, found, "expected accept-new StrictHostKeyChecking option, got %v", args)
}

func TestSSHArgsPinKnownHostsFileOnceVerified(t *testing.T) {
	a := &Adapter{opt: Options{Host: "example.com", Port: "22", HostKeyFP: "whatever"}, knownHostsFP: "/tmp/afd-sftp-known-hosts-test"}
	args := a.sshArgs()

	require.NotContains(t, args, "StrictHostKeyChecking=accept-new")
	require.Contains(t, args, "StrictHostKeyChecking=yes")
	require.Contains(t, args, "UserKnownHostsFile=/tmp/afd-sftp-known-hosts-test")
}
