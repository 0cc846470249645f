/*
Package states implements the built-in node behaviors.

Each behavior sends its prompt in Enter and judges one inbound update in Handle,
returning a domain.Verdict. Behaviors never change ChatState and never send the
Retry reason themselves; the flow engine does both.

  - choice: pick one of the declared choices (buttons or exact text).
  - text / rich_text: free text, optionally with a minimum word count.
  - username: a platform username.
  - voice_upload / file_upload: download, store and record an attachment.
  - cutscene: show text (and optionally a file) and move on or end.

Register binds named behavior sets, such as "builtin", onto a registry.
*/
package states
