/*
Package karchive reads keyed archives (the NSKeyedArchiver property list
format) and decodes them into Go values, without running any code associated
with the archived classes.

We implement:

1. Loading, from bytes, readers or memory-mapped files (optionally
zstd-compressed), into an immutable arena of slots.

2. A reference graph over that arena: slots are addressed by Ref, nested
positions hold primitives or references, and instances point at class
metadata slots.

3. Typed decoding: built-in rules for Go primitives, slices, maps, pointers
and times; record descriptors for structs; variant descriptors for
interfaces; and the Decodable interface for everything else.

4. A plain tree conversion into nil/bool/numbers/strings/[]any/map[string]any,
for tooling and export.

# Technical Details

**Archive layout.**
The top-level dictionary holds $archiver, $version, $top and $objects.
$objects is the arena; slot 0 is conventionally the "$null" marker. $top maps
names to UIDs, and the "root" entry is the usual starting point.

**Slots.**
A dictionary with a $class key is an instance; its $class is a UID of a class
metadata slot, a dictionary with $classes (the inheritance chain, most-derived
first) and $classname. Any other dictionary is kept as a plain dict.
Containers never nest slot content inline: their elements are primitives or
UIDs. All UIDs are checked against the arena size when loading, so a loaded
Graph never holds a dangling Ref.

**Foundation shapes.**
NSArray, NSSet and NSOrderedSet keep their elements in NS.objects. NSDictionary
keeps parallel NS.keys and NS.objects arrays. NSString keeps NS.string (or
UTF-8 NS.bytes), NSData keeps NS.data, NSDate keeps NS.time as seconds since
2001-01-01 UTC. Built-in decoding and the plain tree understand these shapes,
including their Mutable subclasses.

**Records.**
A struct decodes from an instance (or a plain dict) by key. Fields are
matched by Go name unless renamed with an `archive:"key"` tag or via
DefineRecord. Unmarked fields are required; `default`, pointer-typed fields and
DefaultValue make them optional. A `map[string]Value` field tagged
`unhandled` receives every key no other field claims. A record with an
explicit class (a `_` field tagged `archive:",class:Name"`, ClassNamer or
RecordBuilder.Class) only accepts instances of that class or its subclasses.

**Variants.**
An interface type registered with DefineVariants decodes by trying each
variant in order and keeping the first that succeeds. A failed variant,
including one that runs into a reference cycle, is recorded and the next one
is tried; only exceeding Options.MaxDepth aborts at once. If every variant
fails, VariantError lists all of them.

**Resolution guard.**
The decoder tracks the references it is currently inside of. Entering the same
reference for the same Go type again is ErrCycle, and nesting deeper than
Options.MaxDepth is ErrDepthExceeded. Decoding into Ref or Value never
follows the reference, which is how self-referential graphs are read.
*/
package karchive
