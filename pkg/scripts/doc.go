// Package scripts loads operations written in Starlark.
//
// Every *.star file under the operations directory is a module. Files whose
// name starts with "_" are not discovered but can be pulled in with load().
// A module defines register(ops) and declares its operations there:
//
//	def create_bucket(ctx):
//	    name = ctx.require("BUCKET_NAME")
//	    print("creating", name, "in", ctx.env)
//
//	def register(ops):
//	    ops.operation(create_bucket, "Create the upload bucket",
//	                  target_envs = ["local", "stage"],
//	                  depends_on = ["secrets-setup"])
//
// The operation name defaults to the function name in kebab-case
// (create_bucket becomes "create-bucket"). name= takes a string or a
// function receiving the derived name.
//
// Discovery keeps going when a module fails; failures are collected in the
// DiscoveryReport. Watcher reports project file changes for the dev loop.
package scripts
