package topology

import (
	"fmt"
	"strings"
)

// provisionScript builds the shell provisioning for one machine: install
// the public key into the admin account's authorized_keys, then create the
// per-machine user with a copy of that file.
func provisionScript(pubKey, adminHome, username string) string {
	var b strings.Builder
	b.WriteString(authorizedKeysStanza(adminHome, pubKey))
	b.WriteString(accountStanza(username, adminHome))
	return b.String()
}

// authorizedKeysStanza appends the key line to {home}/.ssh/authorized_keys
// exactly once. The grep guard matches the whole line, so reprovisioning a
// machine never duplicates the key.
func authorizedKeysStanza(home, key string) string {
	authKeys := home + "/.ssh/authorized_keys"

	var b strings.Builder
	fmt.Fprintf(&b, "install -d -m 700 %s/.ssh\n", home)
	fmt.Fprintf(&b, "touch %s\n", authKeys)
	fmt.Fprintf(&b, "grep -qxF '%s' %s || echo '%s' >> %s\n", key, authKeys, key, authKeys)
	return b.String()
}

// accountStanza creates the machine's local account and gives it the admin
// account's authorized_keys with the usual 700/600 permissions.
func accountStanza(user, adminHome string) string {
	home := "/home/" + user

	var b strings.Builder
	fmt.Fprintf(&b, "id -u %s >/dev/null 2>&1 || useradd -m -s /bin/bash %s\n", user, user)
	fmt.Fprintf(&b, "install -d -m 700 -o %s -g %s %s/.ssh\n", user, user, home)
	fmt.Fprintf(&b, "cp %s/.ssh/authorized_keys %s/.ssh/authorized_keys\n", adminHome, home)
	fmt.Fprintf(&b, "chown %s:%s %s/.ssh/authorized_keys\n", user, user, home)
	fmt.Fprintf(&b, "chmod 600 %s/.ssh/authorized_keys\n", home)
	return b.String()
}
